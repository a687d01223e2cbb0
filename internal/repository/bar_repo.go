package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var barKeyColumns = []clause.Column{
	{Name: "timestamp"},
	{Name: "symbol"},
	{Name: "contract"},
	{Name: "exchange"},
}

// barValueColumns are replaced wholesale when a bar key is written again
var barValueColumns = []string{
	"exchange_code", "open", "high", "low", "close", "volume", "tick_count",
	"vwap", "bid", "ask", "spread", "avg_spread", "max_spread",
	"data_quality_score", "is_regular_hours",
}

const barInsertBatchSize = 500

// BarRepository stores OHLCV bars for every timeframe
type BarRepository struct {
	DB *gorm.DB
}

// NewBarRepository creates a new BarRepository
func NewBarRepository(db *gorm.DB) *BarRepository {
	return &BarRepository{DB: db}
}

// UpsertBar writes a bar, replacing any row with the same key
func (r *BarRepository) UpsertBar(ctx context.Context, tf models.Timeframe, bar *models.Bar) error {
	result := r.DB.WithContext(ctx).Table(tf.TableName()).Clauses(clause.OnConflict{
		Columns:   barKeyColumns,
		DoUpdates: clause.AssignmentColumns(barValueColumns),
	}).Create(bar)
	if result.Error != nil {
		return fmt.Errorf("error upserting %s bar: %w", tf, result.Error)
	}
	return nil
}

// ListBars returns bars matching the filter ordered oldest first
func (r *BarRepository) ListBars(ctx context.Context, tf models.Timeframe, f models.BarFilter) ([]models.Bar, error) {
	query := r.DB.WithContext(ctx).Table(tf.TableName())
	if f.Symbol != "" {
		query = query.Where("symbol = ?", f.Symbol)
	}
	if f.Contract != "" {
		query = query.Where("contract = ?", f.Contract)
	}
	if f.Exchange != "" {
		query = query.Where("exchange = ?", f.Exchange)
	}
	if !f.From.IsZero() {
		query = query.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("timestamp < ?", f.To)
	}
	if f.Latest {
		query = query.Order("timestamp DESC")
	} else {
		query = query.Order("timestamp ASC")
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var bars []models.Bar
	if err := query.Find(&bars).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s bars: %w", tf, err)
	}

	if f.Latest {
		for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
			bars[i], bars[j] = bars[j], bars[i]
		}
	}
	return bars, nil
}

// ReplaceBars deletes every bar in [from, to) and inserts bars in one transaction
func (r *BarRepository) ReplaceBars(ctx context.Context, tf models.Timeframe, from, to time.Time, bars []models.Bar) error {
	table := tf.TableName()
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Table(table).Where("timestamp >= ? AND timestamp < ?", from, to).Delete(&models.Bar{})
		if result.Error != nil {
			return fmt.Errorf("failed to clear %s window: %w", table, result.Error)
		}
		if len(bars) == 0 {
			return nil
		}
		if err := tx.Table(table).CreateInBatches(bars, barInsertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert %s bars: %w", table, err)
		}
		return nil
	})
}
