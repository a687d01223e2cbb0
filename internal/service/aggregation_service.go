package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/shopspring/decimal"
)

// AggregationResult describes one refresh of a derived timeframe
type AggregationResult struct {
	Timeframe  models.Timeframe `json:"timeframe"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	SourceBars int              `json:"source_bars"`
	Buckets    int              `json:"buckets"`
}

// AggregationService derives coarser bars from second bars
type AggregationService struct {
	bars    BarStore
	windows map[models.Timeframe]config.JobWindow
}

// NewAggregationService creates a new AggregationService
func NewAggregationService(bars BarStore, cfg config.AggregationConfig) *AggregationService {
	return &AggregationService{
		bars: bars,
		windows: map[models.Timeframe]config.JobWindow{
			models.Timeframe1m:  cfg.Minute,
			models.Timeframe5m:  cfg.FiveMinute,
			models.Timeframe15m: cfg.FifteenMinute,
			models.Timeframe1h:  cfg.Hour,
		},
	}
}

// JobWindow returns the configured window of a derived timeframe
func (s *AggregationService) JobWindow(tf models.Timeframe) (config.JobWindow, bool) {
	w, ok := s.windows[tf]
	return w, ok
}

// Window returns the bucket range [from, to) refreshed by a run at now. The
// bucket containing now is never included.
func (s *AggregationService) Window(tf models.Timeframe, now time.Time) (time.Time, time.Time, error) {
	w, ok := s.windows[tf]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("timeframe %q is not aggregated", tf)
	}

	from := tf.BucketStart(now.Add(-w.StartOffset))
	to := tf.BucketStart(now.Add(-w.EndOffset))
	if open := tf.BucketStart(now); to.After(open) {
		to = open
	}
	return from, to, nil
}

// RunOnce recomputes every bucket of tf inside its window and replaces the
// stored buckets in one transaction. Running it again is a no-op unless
// second bars inside the window changed.
func (s *AggregationService) RunOnce(ctx context.Context, tf models.Timeframe, now time.Time) (*AggregationResult, error) {
	from, to, err := s.Window(tf, now)
	if err != nil {
		return nil, err
	}

	result := &AggregationResult{Timeframe: tf, From: from, To: to}
	if !from.Before(to) {
		return result, nil
	}

	source, err := s.bars.ListBars(ctx, models.Timeframe1s, models.BarFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("failed to read second bars: %w", err)
	}

	buckets := AggregateBars(tf, source)
	if err := s.bars.ReplaceBars(ctx, tf, from, to, buckets); err != nil {
		return nil, fmt.Errorf("failed to store %s bars: %w", tf, err)
	}

	result.SourceBars = len(source)
	result.Buckets = len(buckets)
	zaplogger.Debug("aggregation refreshed", zaplogger.Fields{
		"timeframe":   string(tf),
		"from":        from,
		"to":          to,
		"source_bars": result.SourceBars,
		"buckets":     result.Buckets,
	})
	return result, nil
}

type bucketKey struct {
	models.BarKey
	start int64
}

// AggregateBars folds bars into tf buckets per (symbol, contract, exchange).
// The input order does not matter. The result is ordered by bucket start,
// then key.
func AggregateBars(tf models.Timeframe, bars []models.Bar) []models.Bar {
	groups := make(map[bucketKey][]models.Bar)
	for _, b := range bars {
		k := bucketKey{b.Key(), tf.BucketStart(b.Timestamp).UnixNano()}
		groups[k] = append(groups[k], b)
	}

	out := make([]models.Bar, 0, len(groups))
	for k, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
		out = append(out, foldBucket(time.Unix(0, k.start).UTC(), group))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Contract != b.Contract {
			return a.Contract < b.Contract
		}
		return a.Exchange < b.Exchange
	})
	return out
}

// foldBucket folds bars sorted by timestamp into one bar starting at start
func foldBucket(start time.Time, bars []models.Bar) models.Bar {
	first, last := bars[0], bars[len(bars)-1]
	agg := models.Bar{
		Timestamp:    start,
		Symbol:       first.Symbol,
		Contract:     first.Contract,
		Exchange:     first.Exchange,
		ExchangeCode: last.ExchangeCode,
		Open:         first.Open,
		High:         first.High,
		Low:          first.Low,
		Close:        last.Close,
		Bid:          last.Bid,
		Ask:          last.Ask,
		Spread:       last.Spread,
	}

	var vwapSum, spreadSum, qualitySum decimal.Decimal
	var vwapN, spreadN int64
	var maxSpread decimal.NullDecimal

	for _, b := range bars {
		agg.High = decimal.Max(agg.High, b.High)
		agg.Low = decimal.Min(agg.Low, b.Low)
		agg.Volume += b.Volume
		agg.TickCount += b.TickCount
		agg.IsRegularHours = agg.IsRegularHours || b.IsRegularHours
		qualitySum = qualitySum.Add(b.DataQualityScore)

		// vwap is the plain mean of the bar vwaps
		if b.Vwap.Valid {
			vwapSum = vwapSum.Add(b.Vwap.Decimal)
			vwapN++
		}
		if b.Spread.Valid {
			spreadSum = spreadSum.Add(b.Spread.Decimal)
			spreadN++
			if !maxSpread.Valid || b.Spread.Decimal.GreaterThan(maxSpread.Decimal) {
				maxSpread = b.Spread
			}
		}
	}

	if vwapN > 0 {
		agg.Vwap = decimal.NewNullDecimal(vwapSum.Div(decimal.NewFromInt(vwapN)).Round(priceScale))
	}
	if spreadN > 0 {
		agg.AvgSpread = decimal.NewNullDecimal(spreadSum.Div(decimal.NewFromInt(spreadN)).Round(priceScale))
	}
	agg.MaxSpread = maxSpread
	agg.DataQualityScore = qualitySum.Div(decimal.NewFromInt(int64(len(bars)))).Round(2)
	return agg
}
