package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

const (
	rsiPeriod       = 14
	macdFastPeriod  = 12
	macdSlowPeriod  = 26
	macdSignalLen   = 9
	volumeSmaPeriod = 20
)

// FeatureService computes technical indicators over stored bars
type FeatureService struct {
	bars     BarStore
	features FeatureStore
	lookback int
}

// NewFeatureService creates a new FeatureService. lookback is the number of
// bars read per series.
func NewFeatureService(bars BarStore, features FeatureStore, lookback int) *FeatureService {
	if lookback < macdSlowPeriod+macdSignalLen {
		lookback = macdSlowPeriod + macdSignalLen
	}
	return &FeatureService{bars: bars, features: features, lookback: lookback}
}

// RunOnce computes features for the latest closed bar of every series that
// traded in the lookback window and returns the number of rows written.
func (s *FeatureService) RunOnce(ctx context.Context, tf models.Timeframe, now time.Time) (int, error) {
	to := tf.BucketStart(now)
	from := to.Add(-time.Duration(s.lookback) * tf.Duration())

	bars, err := s.bars.ListBars(ctx, tf, models.BarFilter{From: from, To: to})
	if err != nil {
		return 0, fmt.Errorf("failed to read %s bars: %w", tf, err)
	}

	series := make(map[models.BarKey][]models.Bar)
	var keys []models.BarKey
	for _, b := range bars {
		k := b.Key()
		if _, ok := series[k]; !ok {
			keys = append(keys, k)
		}
		series[k] = append(series[k], b)
	}

	written := 0
	var errs []error
	for _, k := range keys {
		f := ComputeFeatures(tf, series[k])
		if f == nil {
			continue
		}
		if err := s.features.UpsertFeature(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s/%s: %w", k.Symbol, k.Contract, k.Exchange, err))
			continue
		}
		written++
	}

	zaplogger.Debug("features computed", zaplogger.Fields{
		"timeframe": string(tf),
		"series":    len(keys),
		"written":   written,
	})
	return written, errors.Join(errs...)
}

// Latest returns the newest stored feature row of a series
func (s *FeatureService) Latest(ctx context.Context, key models.BarKey, tf models.Timeframe) (*models.Feature, error) {
	return s.features.LatestFeature(ctx, key, tf)
}

// ComputeFeatures computes indicators for the last of bars, which must be one
// series ordered oldest first. Indicators without enough history stay null.
func ComputeFeatures(tf models.Timeframe, bars []models.Bar) *models.Feature {
	if len(bars) == 0 {
		return nil
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
		volumes[i] = float64(b.Volume)
	}

	last := bars[len(bars)-1]
	f := &models.Feature{
		Timestamp: last.Timestamp,
		Symbol:    last.Symbol,
		Contract:  last.Contract,
		Exchange:  last.Exchange,
		Timeframe: string(tf),
		Sma5:      lastOf(sma(closes, 5), 4),
		Sma10:     lastOf(sma(closes, 10), 4),
		Sma20:     lastOf(sma(closes, 20), 4),
		Sma50:     lastOf(sma(closes, 50), 4),
		Rsi:       lastOf(rsi(closes, rsiPeriod), 2),
	}

	ema12 := ema(closes, macdFastPeriod)
	ema26 := ema(closes, macdSlowPeriod)
	f.Ema12 = lastOf(ema12, 4)
	f.Ema26 = lastOf(ema26, 4)

	// both EMA outputs end on the last bar, so align them from the tail
	if len(ema26) > 0 && len(ema12) >= len(ema26) {
		macd := make([]float64, len(ema26))
		offset := len(ema12) - len(ema26)
		for i := range ema26 {
			macd[i] = ema12[offset+i] - ema26[i]
		}
		f.Macd = lastOf(macd, 4)

		signal := ema(macd, macdSignalLen)
		f.MacdSignal = lastOf(signal, 4)
		if len(signal) > 0 {
			f.MacdHistogram = nullFloat(macd[len(macd)-1]-signal[len(signal)-1], 4)
		}
	}

	volumeSma := sma(volumes, volumeSmaPeriod)
	f.VolumeSma = lastOf(volumeSma, 2)
	if len(volumeSma) > 0 && volumeSma[len(volumeSma)-1] > 0 {
		f.VolumeRatio = nullFloat(volumes[len(volumes)-1]/volumeSma[len(volumeSma)-1], 4)
	}
	return f
}

func sma(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	ind := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(ind.Compute(helper.SliceToChan(values)))
}

func ema(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	ind := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ind.Compute(helper.SliceToChan(values)))
}

func rsi(values []float64, period int) []float64 {
	if len(values) <= period {
		return nil
	}
	ind := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(ind.Compute(helper.SliceToChan(values)))
}

func lastOf(values []float64, places int32) decimal.NullDecimal {
	if len(values) == 0 {
		return decimal.NullDecimal{}
	}
	return nullFloat(values[len(values)-1], places)
}

func nullFloat(v float64, places int32) decimal.NullDecimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(v).Round(places))
}
