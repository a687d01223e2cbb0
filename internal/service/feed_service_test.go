package service

import (
	"context"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builderTick(ts time.Time, tickType string, price float64, size int64) models.Tick {
	return models.Tick{
		Timestamp: ts, Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", ExchangeCode: "XCME",
		Price: decimal.NewFromFloat(price), Size: size, TickType: tickType,
	}
}

func TestBarBuilder(t *testing.T) {
	b := NewBarBuilder()

	b.Add(builderTick(t0.Add(100*time.Millisecond), models.TickTypeTrade, 21000, 2))
	b.Add(builderTick(t0.Add(200*time.Millisecond), models.TickTypeBid, 20999.75, 10))
	b.Add(builderTick(t0.Add(300*time.Millisecond), models.TickTypeAsk, 21000.25, 12))
	b.Add(builderTick(t0.Add(500*time.Millisecond), models.TickTypeTrade, 21002, 1))
	b.Add(builderTick(t0.Add(900*time.Millisecond), models.TickTypeTrade, 20999, 3))
	b.Add(builderTick(t0.Add(1200*time.Millisecond), models.TickTypeTrade, 21001, 1))
	assert.Equal(t, 2, b.Pending())

	closed := b.Flush(t0.Add(time.Second))
	require.Len(t, closed, 1)
	bar := closed[0]
	assert.True(t, bar.Timestamp.Equal(t0))
	assert.Equal(t, 21000.0, bar.Open)
	assert.Equal(t, 21002.0, bar.High)
	assert.Equal(t, 20999.0, bar.Low)
	assert.Equal(t, 20999.0, bar.Close)
	assert.Equal(t, int64(6), bar.Volume)
	assert.Equal(t, int64(3), bar.TickCount)
	require.NotNil(t, bar.Vwap)
	assert.InDelta(t, 125999.0/6.0, *bar.Vwap, 1e-6)
	require.NotNil(t, bar.Bid)
	require.NotNil(t, bar.Ask)
	assert.Equal(t, 20999.75, *bar.Bid)
	assert.Equal(t, 21000.25, *bar.Ask)
	assert.Equal(t, "XCME", bar.ExchangeCode)

	assert.Equal(t, 1, b.Pending())
	rest := b.FlushAll()
	require.Len(t, rest, 1)
	assert.True(t, rest[0].Timestamp.Equal(t0.Add(time.Second)))
	assert.Zero(t, b.Pending())

	// every built bar passes validation
	for _, in := range append(closed, rest...) {
		_, rejection := ValidateBar(in)
		assert.Nil(t, rejection)
	}
}

func TestBarBuilder_ZeroSizeSecond(t *testing.T) {
	b := NewBarBuilder()
	b.Add(builderTick(t0, models.TickTypeTrade, 21000.5, 0))

	bars := b.FlushAll()
	require.Len(t, bars, 1)
	require.NotNil(t, bars[0].Vwap)
	assert.Equal(t, 21000.5, *bars[0].Vwap)
	assert.Nil(t, bars[0].Bid)
}

func sequencedTick(ts time.Time, seq int64, price float64, size int64) models.Tick {
	tick := builderTick(ts, models.TickTypeTrade, price, size)
	tick.SequenceNumber = seq
	return tick
}

func TestBarBuilder_OrdersByTickTime(t *testing.T) {
	b := NewBarBuilder()
	b.Add(sequencedTick(t0.Add(600*time.Millisecond), 5, 21005, 1))
	b.Add(sequencedTick(t0.Add(100*time.Millisecond), 1, 21000, 1))
	// same instant, lower sequence number
	b.Add(sequencedTick(t0.Add(600*time.Millisecond), 4, 21003, 1))
	b.Add(sequencedTick(t0.Add(300*time.Millisecond), 2, 21001, 1))

	bars := b.FlushAll()
	require.Len(t, bars, 1)
	assert.Equal(t, 21000.0, bars[0].Open)
	assert.Equal(t, 21005.0, bars[0].Close)
	assert.Equal(t, 21005.0, bars[0].High)
	assert.Equal(t, 21000.0, bars[0].Low)
	assert.Equal(t, int64(4), bars[0].TickCount)
}

func TestBarBuilder_LateTradeMergesIntoFlushedSecond(t *testing.T) {
	b := NewBarBuilder()
	for i := 0; i < 10; i++ {
		assert.True(t, b.Add(sequencedTick(t0.Add(time.Duration(i*50)*time.Millisecond), int64(i+1), 21000+float64(i), 10)))
	}

	first := b.Flush(t0.Add(time.Second))
	require.Len(t, first, 1)
	assert.Equal(t, int64(100), first[0].Volume)
	assert.Zero(t, b.Pending())

	assert.True(t, b.Add(sequencedTick(t0.Add(980*time.Millisecond), 11, 20990, 1)))
	assert.Equal(t, 1, b.Pending())

	merged := b.Flush(t0.Add(3 * time.Second))
	require.Len(t, merged, 1)
	bar := merged[0]
	assert.True(t, bar.Timestamp.Equal(t0))
	assert.Equal(t, int64(101), bar.Volume)
	assert.Equal(t, int64(11), bar.TickCount)
	assert.Equal(t, 21000.0, bar.Open)
	assert.Equal(t, 21009.0, bar.High)
	assert.Equal(t, 20990.0, bar.Low)
	assert.Equal(t, 20990.0, bar.Close)

	// past the late window the trade is refused, not folded into a new bar
	assert.Empty(t, b.Flush(t0.Add(2*time.Minute)))
	assert.False(t, b.Add(sequencedTick(t0.Add(500*time.Millisecond), 12, 20980, 1)))
	assert.Zero(t, b.Pending())

	// quotes are never late
	assert.True(t, b.Add(builderTick(t0, models.TickTypeBid, 20999, 1)))
}

func TestFeedService_LateTradeKeepsStoredBar(t *testing.T) {
	store, registry := newSeededRegistry(t)
	feed := NewFeedService(NewIngestService(store, store, registry), 100, 10*time.Millisecond)
	feed.now = func() time.Time { return t0.Add(3 * time.Second) }

	require.NoError(t, feed.Start(context.Background()))
	for i := 0; i < 10; i++ {
		require.NoError(t, feed.Submit(TickInput{
			Timestamp: t0.Add(time.Duration(i*50) * time.Millisecond), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME",
			SequenceNumber: int64(i + 1), Price: 21000 + float64(i), Size: 10, TickType: "trade",
		}))
	}
	require.Eventually(t, func() bool { return feed.Status().BarsWritten >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Submit(TickInput{
		Timestamp: t0.Add(980 * time.Millisecond), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME",
		SequenceNumber: 11, Price: 20990, Size: 1, TickType: "trade",
	}))
	require.NoError(t, feed.Stop())

	status := feed.Status()
	assert.Equal(t, int64(11), status.TicksAccepted)
	assert.Zero(t, status.TicksLate)
	assert.GreaterOrEqual(t, status.BarsWritten, int64(2))

	bars, err := store.ListBars(context.Background(), models.Timeframe1s, models.BarFilter{Symbol: "NQ"})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(101), bars[0].Volume)
	assert.Equal(t, int64(11), bars[0].TickCount)
	assert.Equal(t, "21009", bars[0].High.String())
	assert.Equal(t, "21000", bars[0].Open.String())
	assert.Equal(t, "20990", bars[0].Close.String())
}

func TestFeedService_StartSubmitStop(t *testing.T) {
	store, registry := newSeededRegistry(t)
	feed := NewFeedService(NewIngestService(store, store, registry), 100, time.Hour)

	assert.ErrorIs(t, feed.Submit(TickInput{}), ErrFeedNotRunning)
	assert.ErrorIs(t, feed.Stop(), ErrFeedNotRunning)

	require.NoError(t, feed.Start(context.Background()))
	assert.ErrorIs(t, feed.Start(context.Background()), ErrFeedAlreadyRunning)

	ticks := []TickInput{
		{Timestamp: t0, Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", SequenceNumber: 1, Price: 21000, Size: 2, TickType: "trade"},
		{Timestamp: t0.Add(300 * time.Millisecond), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", SequenceNumber: 2, Price: 21003, Size: 1, TickType: "trade"},
		{Timestamp: t0.Add(300 * time.Millisecond), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", SequenceNumber: 2, Price: 21003, Size: 1, TickType: "trade"},
		{Timestamp: t0.Add(1500 * time.Millisecond), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", SequenceNumber: 3, Price: 21001, Size: 4, TickType: "trade"},
		{Timestamp: t0.Add(1600 * time.Millisecond), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", SequenceNumber: 4, Price: 0, Size: 1, TickType: "trade"},
	}
	for _, tick := range ticks {
		require.NoError(t, feed.Submit(tick))
	}

	require.NoError(t, feed.Stop())

	status := feed.Status()
	assert.False(t, status.Running)
	assert.Equal(t, int64(5), status.TicksReceived)
	assert.Equal(t, int64(3), status.TicksAccepted)
	assert.Equal(t, int64(2), status.TicksRejected)
	assert.Equal(t, int64(2), status.BarsWritten)
	assert.Zero(t, status.PendingBars)

	bars, err := store.ListBars(context.Background(), models.Timeframe1s, models.BarFilter{Symbol: "NQ"})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(3), bars[0].Volume)
	assert.Equal(t, "21003", bars[0].High.String())
	assert.Equal(t, int64(4), bars[1].Volume)

	c, err := registry.GetContract(context.Background(), "NQZ24")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Volume)
}

func TestFeedService_DropsWhenFull(t *testing.T) {
	feed := NewFeedService(nil, 1, time.Second)
	// running without a consumer
	feed.isRunning = true

	tick := TickInput{Timestamp: t0, Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", Price: 21000, TickType: "trade"}
	require.NoError(t, feed.Submit(tick))
	assert.ErrorIs(t, feed.Submit(tick), ErrFeedChannelFull)

	status := feed.Status()
	assert.Equal(t, int64(2), status.TicksReceived)
	assert.Equal(t, int64(1), status.TicksDropped)
	assert.Equal(t, 1, status.Queued)
}
