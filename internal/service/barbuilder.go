package service

import (
	"sort"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/shopspring/decimal"
)

type secondSlot struct {
	models.BarKey
	second int64
}

// defaultLateTickWindow is how long a flushed second stays mergeable
const defaultLateTickWindow = time.Minute

type barAccumulator struct {
	start        time.Time
	exchangeCode string
	firstAt      time.Time
	firstSeq     int64
	lastAt       time.Time
	lastSeq      int64
	open         decimal.Decimal
	high         decimal.Decimal
	low          decimal.Decimal
	close        decimal.Decimal
	volume       int64
	ticks        int64
	notional     decimal.Decimal
}

type quote struct {
	bid decimal.NullDecimal
	ask decimal.NullDecimal
}

// BarBuilder folds trade ticks into second bars. Bid and ask ticks update the
// latest quote of their series, which is attached to bars when they close.
//
// Open and close follow tick time, then sequence number, not arrival order.
// Flushed seconds are kept for a while so a late trade reopens its bar and the
// next flush writes the merged bar. Trades older than that are refused.
// It is not safe for concurrent use.
type BarBuilder struct {
	open       map[secondSlot]*barAccumulator
	closed     map[secondSlot]*barAccumulator
	quotes     map[models.BarKey]quote
	lateWindow time.Duration
	horizon    time.Time
}

// NewBarBuilder creates an empty BarBuilder
func NewBarBuilder() *BarBuilder {
	return &BarBuilder{
		open:       make(map[secondSlot]*barAccumulator),
		closed:     make(map[secondSlot]*barAccumulator),
		quotes:     make(map[models.BarKey]quote),
		lateWindow: defaultLateTickWindow,
	}
}

// Add folds one accepted tick. It returns false for a trade whose second was
// flushed longer ago than the late window; that trade is not folded.
func (b *BarBuilder) Add(t models.Tick) bool {
	key := models.BarKey{Symbol: t.Symbol, Contract: t.Contract, Exchange: t.Exchange}

	switch t.TickType {
	case models.TickTypeBid:
		q := b.quotes[key]
		q.bid = decimal.NewNullDecimal(t.Price)
		b.quotes[key] = q
		return true
	case models.TickTypeAsk:
		q := b.quotes[key]
		q.ask = decimal.NewNullDecimal(t.Price)
		b.quotes[key] = q
		return true
	}

	at := t.Timestamp.UTC()
	start := at.Truncate(time.Second)
	slot := secondSlot{key, start.Unix()}
	acc, ok := b.open[slot]
	if !ok {
		if acc, ok = b.closed[slot]; ok {
			delete(b.closed, slot)
			b.open[slot] = acc
		}
	}
	if !ok {
		if start.Before(b.horizon) {
			return false
		}
		b.open[slot] = &barAccumulator{
			start:        start,
			exchangeCode: t.ExchangeCode,
			firstAt:      at,
			firstSeq:     t.SequenceNumber,
			lastAt:       at,
			lastSeq:      t.SequenceNumber,
			open:         t.Price,
			high:         t.Price,
			low:          t.Price,
			close:        t.Price,
			volume:       t.Size,
			ticks:        1,
			notional:     t.Price.Mul(decimal.NewFromInt(t.Size)),
		}
		return true
	}

	if tickBefore(at, t.SequenceNumber, acc.firstAt, acc.firstSeq) {
		acc.open = t.Price
		acc.firstAt, acc.firstSeq = at, t.SequenceNumber
	}
	if !tickBefore(at, t.SequenceNumber, acc.lastAt, acc.lastSeq) {
		acc.close = t.Price
		acc.lastAt, acc.lastSeq = at, t.SequenceNumber
	}
	acc.high = decimal.Max(acc.high, t.Price)
	acc.low = decimal.Min(acc.low, t.Price)
	acc.volume += t.Size
	acc.ticks++
	acc.notional = acc.notional.Add(t.Price.Mul(decimal.NewFromInt(t.Size)))
	return true
}

func tickBefore(at time.Time, seq int64, other time.Time, otherSeq int64) bool {
	if !at.Equal(other) {
		return at.Before(other)
	}
	return seq < otherSeq
}

// Pending returns the number of open bars
func (b *BarBuilder) Pending() int {
	return len(b.open)
}

// Flush closes every bar that started before cutoff, oldest first. Closed
// seconds older than the late window are forgotten.
func (b *BarBuilder) Flush(cutoff time.Time) []BarInput {
	out := b.flush(cutoff)

	horizon := cutoff.Add(-b.lateWindow)
	if horizon.After(b.horizon) {
		b.horizon = horizon
	}
	for slot, acc := range b.closed {
		if acc.start.Before(b.horizon) {
			delete(b.closed, slot)
		}
	}
	return out
}

// FlushAll closes every open bar
func (b *BarBuilder) FlushAll() []BarInput {
	return b.flush(time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC))
}

func (b *BarBuilder) flush(cutoff time.Time) []BarInput {
	var out []BarInput
	for slot, acc := range b.open {
		if !acc.start.Before(cutoff) {
			continue
		}
		out = append(out, b.toInput(slot.BarKey, acc))
		delete(b.open, slot)
		b.closed[slot] = acc
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].Contract != out[j].Contract {
			return out[i].Contract < out[j].Contract
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}

func (b *BarBuilder) toInput(key models.BarKey, acc *barAccumulator) BarInput {
	in := BarInput{
		Timestamp:    acc.start,
		Symbol:       key.Symbol,
		Contract:     key.Contract,
		Exchange:     key.Exchange,
		ExchangeCode: acc.exchangeCode,
		Open:         acc.open.InexactFloat64(),
		High:         acc.high.InexactFloat64(),
		Low:          acc.low.InexactFloat64(),
		Close:        acc.close.InexactFloat64(),
		Volume:       acc.volume,
		TickCount:    acc.ticks,
	}

	// volume weighted from the trades; a zero size second falls back to close
	vwap := acc.close
	if acc.volume > 0 {
		vwap = acc.notional.Div(decimal.NewFromInt(acc.volume))
	}
	v := vwap.InexactFloat64()
	in.Vwap = &v

	if q, ok := b.quotes[key]; ok {
		if q.bid.Valid {
			bid := q.bid.Decimal.InexactFloat64()
			in.Bid = &bid
		}
		if q.ask.Valid {
			ask := q.ask.Decimal.InexactFloat64()
			in.Ask = &ask
		}
	}
	return in
}
