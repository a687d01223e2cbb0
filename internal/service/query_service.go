package service

import (
	"context"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
)

const (
	// LatestPriceLookback bounds how old a "latest" price may be
	LatestPriceLookback = time.Hour

	ArbitrageLookback         = time.Hour
	DefaultArbitrageThreshold = 0.05
	DefaultArbitrageLimit     = 100

	DefaultBarLimit = 1000
	MaxBarLimit     = 10000
)

// QueryService answers the read-side views. It never writes.
type QueryService struct {
	store QueryStore
	bars  BarStore
	now   func() time.Time
}

// NewQueryService creates a new QueryService
func NewQueryService(store QueryStore, bars BarStore) *QueryService {
	return &QueryService{
		store: store,
		bars:  bars,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func dayRange(t time.Time) (time.Time, time.Time) {
	day := t.UTC().Truncate(24 * time.Hour)
	return day, day.Add(24 * time.Hour)
}

// LatestPrices returns the newest second bar per (contract, exchange) within
// the lookback window. No trades means an empty result.
func (s *QueryService) LatestPrices(ctx context.Context, symbol string) ([]models.LatestPrice, error) {
	prices, err := s.store.LatestPrices(ctx, symbol, s.now().Add(-LatestPriceLookback))
	if err != nil {
		return nil, err
	}
	if prices == nil {
		prices = []models.LatestPrice{}
	}
	return prices, nil
}

// DailyVolume sums today's (UTC) volume per exchange and symbol
func (s *QueryService) DailyVolume(ctx context.Context) ([]models.DailyVolume, error) {
	return s.DailyVolumeOn(ctx, s.now())
}

// DailyVolumeOn sums the volume of the UTC day containing date
func (s *QueryService) DailyVolumeOn(ctx context.Context, date time.Time) ([]models.DailyVolume, error) {
	from, to := dayRange(date)
	volumes, err := s.store.DailyVolume(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if volumes == nil {
		volumes = []models.DailyVolume{}
	}
	return volumes, nil
}

// ActiveContracts lists tradable contracts ordered by symbol then expiration
func (s *QueryService) ActiveContracts(ctx context.Context) ([]models.ActiveContract, error) {
	contracts, err := s.store.ActiveContracts(ctx)
	if err != nil {
		return nil, err
	}
	if contracts == nil {
		contracts = []models.ActiveContract{}
	}
	return contracts, nil
}

// ExchangeRankings ranks exchanges by volume for the UTC day containing date
func (s *QueryService) ExchangeRankings(ctx context.Context, symbol string, date time.Time) ([]models.ExchangeRanking, error) {
	if date.IsZero() {
		date = s.now()
	}
	from, to := dayRange(date)
	rankings, err := s.store.ExchangeRankings(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if rankings == nil {
		rankings = []models.ExchangeRanking{}
	}
	return rankings, nil
}

// ArbitrageOpportunities scans the last hour for same-second closes that
// differ across exchanges by at least thresholdPct percent
func (s *QueryService) ArbitrageOpportunities(ctx context.Context, symbol string, thresholdPct float64, limit int) ([]models.ArbitrageOpportunity, error) {
	if thresholdPct <= 0 {
		thresholdPct = DefaultArbitrageThreshold
	}
	if limit <= 0 {
		limit = DefaultArbitrageLimit
	}
	opportunities, err := s.store.ArbitrageOpportunities(ctx, symbol, s.now().Add(-ArbitrageLookback), thresholdPct, limit)
	if err != nil {
		return nil, err
	}
	if opportunities == nil {
		opportunities = []models.ArbitrageOpportunity{}
	}
	return opportunities, nil
}

// Bars reads stored bars of any timeframe
func (s *QueryService) Bars(ctx context.Context, tf models.Timeframe, f models.BarFilter) ([]models.Bar, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultBarLimit
	}
	if f.Limit > MaxBarLimit {
		f.Limit = MaxBarLimit
	}
	bars, err := s.bars.ListBars(ctx, tf, f)
	if err != nil {
		return nil, err
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	return bars, nil
}

func (s *QueryService) Statistics(ctx context.Context, symbol string) (*models.DataStatistics, error) {
	return s.store.Statistics(ctx, symbol)
}
