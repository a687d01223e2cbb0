package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JournalRepository stores predictions and trades
type JournalRepository struct {
	DB *gorm.DB
}

// NewJournalRepository creates a new JournalRepository
func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{DB: db}
}

// --------------------------------------------
// Predictions
// --------------------------------------------

// InsertPrediction writes a prediction once. A second write for the same key
// returns ErrDuplicate and leaves the stored row untouched.
func (r *JournalRepository) InsertPrediction(ctx context.Context, p *models.Prediction) error {
	result := r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if result.Error != nil {
		return fmt.Errorf("failed to insert prediction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// ListPredictions returns predictions newest first
func (r *JournalRepository) ListPredictions(ctx context.Context, f models.PredictionFilter) ([]models.Prediction, error) {
	query := r.DB.WithContext(ctx).Model(&models.Prediction{})
	if f.Symbol != "" {
		query = query.Where("symbol = ?", f.Symbol)
	}
	if f.ModelVersion != "" {
		query = query.Where("model_version = ?", f.ModelVersion)
	}
	if !f.From.IsZero() {
		query = query.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("timestamp < ?", f.To)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var predictions []models.Prediction
	if err := query.Order("timestamp DESC").Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	return predictions, nil
}

// --------------------------------------------
// Trades
// --------------------------------------------

// CreateTrade inserts an open trade and fills in its id
func (r *JournalRepository) CreateTrade(ctx context.Context, t *models.Trade) error {
	if err := r.DB.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetTrade returns one trade by id
func (r *JournalRepository) GetTrade(ctx context.Context, id int64) (*models.Trade, error) {
	var trade models.Trade
	err := r.DB.WithContext(ctx).Where("trade_id = ?", id).First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return &trade, nil
}

// CloseTrade writes the exit of an open trade. Closing twice returns ErrTradeClosed.
func (r *JournalRepository) CloseTrade(ctx context.Context, id int64, exit models.TradeExit) (*models.Trade, error) {
	var trade models.Trade
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("trade_id = ?", id).First(&trade).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !trade.IsOpen() {
			return ErrTradeClosed
		}

		applyExit(&trade, exit)
		return tx.Model(&models.Trade{}).
			Where("trade_id = ? AND timestamp = ?", trade.ID, trade.Timestamp).
			Updates(map[string]interface{}{
				"exit_timestamp": trade.ExitTimestamp,
				"exit_price":     trade.ExitPrice,
				"pnl":            trade.Pnl,
				"pnl_percent":    trade.PnlPercent,
				"commission":     trade.Commission,
				"notes":          trade.Notes,
				"updated_at":     trade.UpdatedAt,
			}).Error
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTradeClosed) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close trade %d: %w", id, err)
	}
	return &trade, nil
}

// ListTrades returns trades newest first
func (r *JournalRepository) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	query := r.DB.WithContext(ctx).Model(&models.Trade{})
	if f.Symbol != "" {
		query = query.Where("symbol = ?", f.Symbol)
	}
	if f.OpenOnly {
		query = query.Where("exit_timestamp IS NULL")
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var trades []models.Trade
	if err := query.Order("timestamp DESC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

func applyExit(t *models.Trade, exit models.TradeExit) {
	exitAt := exit.Timestamp.UTC()
	t.ExitTimestamp = &exitAt
	t.ExitPrice = decimal.NewNullDecimal(exit.Price)
	t.Pnl = decimal.NewNullDecimal(exit.Pnl)
	t.PnlPercent = decimal.NewNullDecimal(exit.PnlPercent)
	t.Commission = exit.Commission
	if exit.Notes != "" {
		t.Notes = exit.Notes
	}
	t.UpdatedAt = time.Now().UTC()
}
