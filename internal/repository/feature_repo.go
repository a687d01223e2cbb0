package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeatureRepository stores computed indicator rows
type FeatureRepository struct {
	DB *gorm.DB
}

// NewFeatureRepository creates a new FeatureRepository
func NewFeatureRepository(db *gorm.DB) *FeatureRepository {
	return &FeatureRepository{DB: db}
}

// UpsertFeature writes a feature row, replacing the row with the same key
func (r *FeatureRepository) UpsertFeature(ctx context.Context, f *models.Feature) error {
	result := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "timestamp"}, {Name: "symbol"}, {Name: "contract"}, {Name: "exchange"}, {Name: "timeframe"},
		},
		UpdateAll: true,
	}).Create(f)
	if result.Error != nil {
		return fmt.Errorf("error upserting feature: %w", result.Error)
	}
	return nil
}

// LatestFeature returns the newest feature row for a series and timeframe
func (r *FeatureRepository) LatestFeature(ctx context.Context, key models.BarKey, tf models.Timeframe) (*models.Feature, error) {
	var feature models.Feature
	err := r.DB.WithContext(ctx).
		Where("symbol = ? AND contract = ? AND exchange = ? AND timeframe = ?", key.Symbol, key.Contract, key.Exchange, string(tf)).
		Order("timestamp DESC").
		First(&feature).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest feature: %w", err)
	}
	return &feature, nil
}
