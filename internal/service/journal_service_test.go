package service

import (
	"context"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *JournalService {
	t.Helper()
	store, registry := newSeededRegistry(t)
	return NewJournalService(store, registry)
}

func TestJournalService_Predictions(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)

	in := PredictionInput{
		Timestamp: t0, Symbol: "NQ", Contract: "NQZ24", Exchange: "CME",
		ModelVersion: "v1.2", ModelType: "gbm", DirectionPrediction: -1, ConfidenceScore: 61.25,
		PredictionHorizonMinutes: 5, FeaturesUsed: []string{"rsi", "macd"},
	}
	p, err := journal.RecordPrediction(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, -1, p.DirectionPrediction)

	// predictions are write-once
	_, err = journal.RecordPrediction(ctx, in)
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	// a new model version is a new key
	in.ModelVersion = "v1.3"
	_, err = journal.RecordPrediction(ctx, in)
	require.NoError(t, err)

	bad := in
	bad.ConfidenceScore = 140
	_, err = journal.RecordPrediction(ctx, bad)
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, RejectInvalidPrediction, rejection.Code)

	predictions, err := journal.ListPredictions(ctx, models.PredictionFilter{Symbol: "NQ"})
	require.NoError(t, err)
	assert.Len(t, predictions, 2)

	predictions, err = journal.ListPredictions(ctx, models.PredictionFilter{Symbol: "ES"})
	require.NoError(t, err)
	assert.NotNil(t, predictions)
	assert.Empty(t, predictions)
}

func TestJournalService_TradeLifecycle(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)

	trade, err := journal.OpenTrade(ctx, TradeInput{
		Timestamp: t0, Symbol: "NQ", Contract: "NQZ24", Exchange: "CME",
		Side: "buy", Quantity: 2, EntryPrice: 21000, Commission: 2.5, ModelVersion: "v1.2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SideBuy, trade.Side)
	assert.True(t, trade.IsOpen())

	open, err := journal.ListTrades(ctx, models.TradeFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	closed, err := journal.CloseTrade(ctx, trade.ID, CloseTradeInput{
		Timestamp: t0.Add(20 * time.Minute), ExitPrice: 21010, Commission: 2.5,
	})
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	// 10 points * 2 lots * $20 - $5 commission
	assert.Equal(t, "395", closed.Pnl.Decimal.String())
	assert.Equal(t, "0.0476", closed.PnlPercent.Decimal.String())
	assert.Equal(t, "5", closed.Commission.String())

	_, err = journal.CloseTrade(ctx, trade.ID, CloseTradeInput{Timestamp: t0.Add(time.Hour), ExitPrice: 21020})
	assert.ErrorIs(t, err, repository.ErrTradeClosed)

	_, err = journal.CloseTrade(ctx, 9999, CloseTradeInput{Timestamp: t0.Add(time.Hour), ExitPrice: 21020})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	open, err = journal.ListTrades(ctx, models.TradeFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestJournalService_ShortTrade(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)

	trade, err := journal.OpenTrade(ctx, TradeInput{
		Timestamp: t0, Symbol: "ES", Contract: "ESZ24", Exchange: "CME",
		Side: "SELL", Quantity: 1, EntryPrice: 6000,
	})
	require.NoError(t, err)

	closed, err := journal.CloseTrade(ctx, trade.ID, CloseTradeInput{Timestamp: t0.Add(time.Minute), ExitPrice: 5990})
	require.NoError(t, err)
	// 10 points * $50
	assert.Equal(t, "500", closed.Pnl.Decimal.String())
}

func TestJournalService_InvalidTrades(t *testing.T) {
	ctx := context.Background()
	journal := newTestJournal(t)

	_, err := journal.OpenTrade(ctx, TradeInput{Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", Side: "hold", Quantity: 0, EntryPrice: -1})
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, RejectInvalidTrade, rejection.Code)
	assert.Contains(t, rejection.Values, "side")
	assert.Contains(t, rejection.Values, "quantity")
	assert.Contains(t, rejection.Values, "entry_price")

	trade, err := journal.OpenTrade(ctx, TradeInput{
		Timestamp: t0, Symbol: "NQ", Contract: "NQZ24", Exchange: "CME", Side: "BUY", Quantity: 1, EntryPrice: 21000,
	})
	require.NoError(t, err)

	_, err = journal.CloseTrade(ctx, trade.ID, CloseTradeInput{Timestamp: t0.Add(-time.Minute), ExitPrice: 21000})
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, RejectInvalidTrade, rejection.Code)

	_, err = journal.CloseTrade(ctx, trade.ID, CloseTradeInput{Timestamp: t0.Add(time.Minute), ExitPrice: 0})
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, RejectInvalidTrade, rejection.Code)
}
