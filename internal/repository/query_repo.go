package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"gorm.io/gorm"
)

const latestPricesSQL = `
SELECT DISTINCT ON (contract, exchange)
	symbol, contract, exchange, exchange_code, timestamp, close, volume, bid, ask, spread
FROM market_data_seconds
WHERE symbol = ? AND timestamp >= ?
ORDER BY contract, exchange, timestamp DESC`

const dailyVolumeSQL = `
SELECT date_trunc('day', timestamp) AS date, exchange, symbol,
	SUM(volume) AS total_volume, COUNT(*) AS bar_count
FROM market_data_seconds
WHERE timestamp >= ? AND timestamp < ?
GROUP BY date_trunc('day', timestamp), exchange, symbol
ORDER BY date, exchange, symbol`

const activeContractsSQL = `
SELECT c.contract_code, c.symbol, i.full_name, e.code AS exchange_code, e.name AS exchange_name,
	c.month_code, c.year, c.expiration_date, i.tick_size, i.point_value, c.volume, c.open_interest
FROM contracts c
JOIN instruments i ON i.symbol = c.symbol
JOIN exchanges e ON e.code = i.exchange_code
WHERE c.is_active = TRUE
ORDER BY c.symbol, c.expiration_date`

const exchangeRankingsSQL = `
WITH v AS (
	SELECT exchange, MAX(exchange_code) AS exchange_code, SUM(volume) AS total_volume,
		COUNT(*) AS bar_count, AVG(spread) AS avg_spread
	FROM market_data_seconds
	WHERE symbol = ? AND timestamp >= ? AND timestamp < ?
	GROUP BY exchange
)
SELECT exchange, exchange_code, total_volume, bar_count, ROUND(avg_spread, 4) AS avg_spread,
	COALESCE(ROUND(total_volume * 100.0 / NULLIF(SUM(total_volume) OVER (), 0), 2), 0) AS market_share,
	RANK() OVER (ORDER BY total_volume DESC) AS rank
FROM v
ORDER BY rank, exchange`

const arbitrageSQL = `
SELECT a.timestamp, a.symbol, a.contract,
	a.exchange AS exchange1, b.exchange AS exchange2,
	a.close AS price1, b.close AS price2,
	ABS(a.close - b.close) AS price_diff,
	ROUND(ABS(a.close - b.close) / LEAST(a.close, b.close) * 100, 4) AS price_diff_pct
FROM market_data_seconds a
JOIN market_data_seconds b
	ON a.timestamp = b.timestamp AND a.symbol = b.symbol AND a.contract = b.contract AND a.exchange < b.exchange
WHERE a.symbol = ? AND a.timestamp >= ?
	AND ABS(a.close - b.close) / LEAST(a.close, b.close) * 100 >= ?
ORDER BY price_diff_pct DESC, a.timestamp DESC
LIMIT ?`

const seriesStatisticsSQL = `
SELECT symbol, exchange, COUNT(*) AS record_count, MIN(timestamp) AS first_bar, MAX(timestamp) AS last_bar
FROM market_data_seconds
WHERE (? = '' OR symbol = ?)
GROUP BY symbol, exchange
ORDER BY record_count DESC
LIMIT 20`

// StatisticsTables are the tables summarised by Statistics
var StatisticsTables = []string{
	models.TicksTableName,
	models.SecondBarsTableName,
	models.MinuteBarsTableName,
	models.FiveMinTableName,
	models.FifteenMinTableName,
	models.HourBarsTableName,
	models.FeaturesTableName,
	models.PredictionsTableName,
	models.TradesTableName,
}

// QueryRepository serves the read-side views
type QueryRepository struct {
	DB *gorm.DB
}

// NewQueryRepository creates a new QueryRepository
func NewQueryRepository(db *gorm.DB) *QueryRepository {
	return &QueryRepository{DB: db}
}

// LatestPrices returns the newest second bar per (contract, exchange) since the given time
func (r *QueryRepository) LatestPrices(ctx context.Context, symbol string, since time.Time) ([]models.LatestPrice, error) {
	var prices []models.LatestPrice
	if err := r.DB.WithContext(ctx).Raw(latestPricesSQL, symbol, since).Scan(&prices).Error; err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	return prices, nil
}

// DailyVolume sums second bar volume by (day, exchange, symbol) in [from, to)
func (r *QueryRepository) DailyVolume(ctx context.Context, from, to time.Time) ([]models.DailyVolume, error) {
	var volumes []models.DailyVolume
	if err := r.DB.WithContext(ctx).Raw(dailyVolumeSQL, from, to).Scan(&volumes).Error; err != nil {
		return nil, fmt.Errorf("failed to query daily volume: %w", err)
	}
	return volumes, nil
}

// ActiveContracts joins active contracts with their instrument and exchange
func (r *QueryRepository) ActiveContracts(ctx context.Context) ([]models.ActiveContract, error) {
	var contracts []models.ActiveContract
	if err := r.DB.WithContext(ctx).Raw(activeContractsSQL).Scan(&contracts).Error; err != nil {
		return nil, fmt.Errorf("failed to query active contracts: %w", err)
	}
	return contracts, nil
}

// ExchangeRankings ranks exchanges by traded volume for a symbol in [from, to)
func (r *QueryRepository) ExchangeRankings(ctx context.Context, symbol string, from, to time.Time) ([]models.ExchangeRanking, error) {
	var rankings []models.ExchangeRanking
	if err := r.DB.WithContext(ctx).Raw(exchangeRankingsSQL, symbol, from, to).Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query exchange rankings: %w", err)
	}
	return rankings, nil
}

// ArbitrageOpportunities finds same-second closes that differ across exchanges
func (r *QueryRepository) ArbitrageOpportunities(ctx context.Context, symbol string, since time.Time, thresholdPct float64, limit int) ([]models.ArbitrageOpportunity, error) {
	var opportunities []models.ArbitrageOpportunity
	err := r.DB.WithContext(ctx).Raw(arbitrageSQL, symbol, since, thresholdPct, limit).Scan(&opportunities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query arbitrage opportunities: %w", err)
	}
	return opportunities, nil
}

// Statistics counts rows per table and breaks second bars down by series
func (r *QueryRepository) Statistics(ctx context.Context, symbol string) (*models.DataStatistics, error) {
	db := r.DB.WithContext(ctx)
	stats := &models.DataStatistics{}

	for _, table := range StatisticsTables {
		var ts models.TableStatistics
		query := db.Table(table).Select("COUNT(*) AS record_count, MIN(timestamp) AS earliest, MAX(timestamp) AS latest")
		if symbol != "" {
			query = query.Where("symbol = ?", symbol)
		}
		if err := query.Scan(&ts).Error; err != nil {
			return nil, fmt.Errorf("failed to collect statistics for %s: %w", table, err)
		}
		ts.Table = table
		stats.Tables = append(stats.Tables, ts)
	}

	if err := db.Raw(seriesStatisticsSQL, symbol, symbol).Scan(&stats.Series).Error; err != nil {
		return nil, fmt.Errorf("failed to collect series statistics: %w", err)
	}
	return stats, nil
}
