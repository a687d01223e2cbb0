// Package service contains the service layer for the futures trading system
package service

import (
	"context"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
)

// RegistryStore persists exchanges, instruments and contracts
type RegistryStore interface {
	ListExchanges(ctx context.Context) ([]models.Exchange, error)
	UpsertExchange(ctx context.Context, exchange *models.Exchange) error
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	UpsertInstrument(ctx context.Context, instrument *models.Instrument) error
	UpsertContract(ctx context.Context, contract *models.Contract) error
	GetContract(ctx context.Context, code string) (*models.Contract, error)
	ListContracts(ctx context.Context, symbol string, activeOnly bool) ([]models.Contract, error)
	DeactivateContract(ctx context.Context, code string) error
	UpdateContractStats(ctx context.Context, code string, openInterest int64) error
	IncrementContractVolume(ctx context.Context, code string, delta int64) error
	ExpireContracts(ctx context.Context, asOf time.Time) (int64, error)
}

// BarStore persists bars of every timeframe
type BarStore interface {
	UpsertBar(ctx context.Context, tf models.Timeframe, bar *models.Bar) error
	ListBars(ctx context.Context, tf models.Timeframe, f models.BarFilter) ([]models.Bar, error)
	ReplaceBars(ctx context.Context, tf models.Timeframe, from, to time.Time, bars []models.Bar) error
}

// TickStore appends raw ticks. InsertTick reports false when the key exists.
type TickStore interface {
	InsertTick(ctx context.Context, tick *models.Tick) (bool, error)
	CountTicks(ctx context.Context, symbol string, from, to time.Time) (int64, error)
}

type JournalStore interface {
	InsertPrediction(ctx context.Context, p *models.Prediction) error
	ListPredictions(ctx context.Context, f models.PredictionFilter) ([]models.Prediction, error)
	CreateTrade(ctx context.Context, t *models.Trade) error
	GetTrade(ctx context.Context, id int64) (*models.Trade, error)
	CloseTrade(ctx context.Context, id int64, exit models.TradeExit) (*models.Trade, error)
	ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error)
}

type FeatureStore interface {
	UpsertFeature(ctx context.Context, f *models.Feature) error
	LatestFeature(ctx context.Context, key models.BarKey, tf models.Timeframe) (*models.Feature, error)
}

// QueryStore serves the read-side views
type QueryStore interface {
	LatestPrices(ctx context.Context, symbol string, since time.Time) ([]models.LatestPrice, error)
	DailyVolume(ctx context.Context, from, to time.Time) ([]models.DailyVolume, error)
	ActiveContracts(ctx context.Context) ([]models.ActiveContract, error)
	ExchangeRankings(ctx context.Context, symbol string, from, to time.Time) ([]models.ExchangeRanking, error)
	ArbitrageOpportunities(ctx context.Context, symbol string, since time.Time, thresholdPct float64, limit int) ([]models.ArbitrageOpportunity, error)
	Statistics(ctx context.Context, symbol string) (*models.DataStatistics, error)
}

// MaintenanceStore purges and compresses time-series tables
type MaintenanceStore interface {
	Purge(ctx context.Context, table string, before time.Time) (int64, error)
	Compress(ctx context.Context, table string, olderThan time.Time) (int64, error)
}

type JobRunStore interface {
	CreateJobRun(ctx context.Context, run *models.JobRun) error
	FinishJobRun(ctx context.Context, run *models.JobRun) error
	ListJobRuns(ctx context.Context, jobName string, limit int) ([]models.JobRun, error)
}

// JobLocker keeps a job single-instance across processes
type JobLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Stores bundles every store the services need
type Stores struct {
	Registry    RegistryStore
	Bars        BarStore
	Ticks       TickStore
	Journal     JournalStore
	Features    FeatureStore
	Queries     QueryStore
	Maintenance MaintenanceStore
	JobRuns     JobRunStore
}

// MemoryStores backs every store with one in-memory store
func MemoryStores(m interface {
	RegistryStore
	BarStore
	TickStore
	JournalStore
	FeatureStore
	QueryStore
	MaintenanceStore
	JobRunStore
}) Stores {
	return Stores{
		Registry:    m,
		Bars:        m,
		Ticks:       m,
		Journal:     m,
		Features:    m,
		Queries:     m,
		Maintenance: m,
		JobRuns:     m,
	}
}
