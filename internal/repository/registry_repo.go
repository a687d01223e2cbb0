package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegistryRepository stores exchanges, instruments and contracts
type RegistryRepository struct {
	DB *gorm.DB
}

// NewRegistryRepository creates a new RegistryRepository
func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{DB: db}
}

// --------------------------------------------
// Exchanges and instruments
// --------------------------------------------

// ListExchanges returns all exchanges ordered by code
func (r *RegistryRepository) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	var exchanges []models.Exchange
	if err := r.DB.WithContext(ctx).Order("code").Find(&exchanges).Error; err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return exchanges, nil
}

// UpsertExchange inserts or updates an exchange keyed by code
func (r *RegistryRepository) UpsertExchange(ctx context.Context, exchange *models.Exchange) error {
	result := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "display_name", "country", "timezone", "is_active"}),
	}).Create(exchange)
	if result.Error != nil {
		return fmt.Errorf("error upserting exchange %s: %w", exchange.Code, result.Error)
	}
	return nil
}

// ListInstruments returns all instruments ordered by symbol
func (r *RegistryRepository) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	var instruments []models.Instrument
	if err := r.DB.WithContext(ctx).Order("symbol").Find(&instruments).Error; err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return instruments, nil
}

// UpsertInstrument inserts or updates an instrument keyed by symbol
func (r *RegistryRepository) UpsertInstrument(ctx context.Context, instrument *models.Instrument) error {
	result := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exchange_code", "full_name", "tick_size", "point_value", "currency", "contract_months", "is_active",
		}),
	}).Create(instrument)
	if result.Error != nil {
		return fmt.Errorf("error upserting instrument %s: %w", instrument.Symbol, result.Error)
	}
	return nil
}

// --------------------------------------------
// Contracts
// --------------------------------------------

// UpsertContract inserts or updates a contract keyed by contract code.
// Running volume and open interest are left untouched on update.
func (r *RegistryRepository) UpsertContract(ctx context.Context, contract *models.Contract) error {
	result := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "contract_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "month_code", "year", "expiration_date", "first_notice_date", "last_trading_date", "is_active", "updated_at",
		}),
	}).Create(contract)
	if result.Error != nil {
		return fmt.Errorf("error upserting contract %s: %w", contract.Code, result.Error)
	}
	return nil
}

// GetContract returns one contract by code
func (r *RegistryRepository) GetContract(ctx context.Context, code string) (*models.Contract, error) {
	var contract models.Contract
	err := r.DB.WithContext(ctx).Where("contract_code = ?", code).First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract %s: %w", code, err)
	}
	return &contract, nil
}

// ListContracts returns contracts ordered by symbol then expiration
func (r *RegistryRepository) ListContracts(ctx context.Context, symbol string, activeOnly bool) ([]models.Contract, error) {
	query := r.DB.WithContext(ctx).Model(&models.Contract{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var contracts []models.Contract
	if err := query.Order("symbol, expiration_date").Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return contracts, nil
}

// DeactivateContract flips is_active to false
func (r *RegistryRepository) DeactivateContract(ctx context.Context, code string) error {
	return r.updateContract(ctx, code, map[string]interface{}{"is_active": false})
}

// UpdateContractStats sets the open interest of a contract
func (r *RegistryRepository) UpdateContractStats(ctx context.Context, code string, openInterest int64) error {
	return r.updateContract(ctx, code, map[string]interface{}{"open_interest": openInterest})
}

// IncrementContractVolume adds delta to the running volume
func (r *RegistryRepository) IncrementContractVolume(ctx context.Context, code string, delta int64) error {
	return r.updateContract(ctx, code, map[string]interface{}{"volume": gorm.Expr("volume + ?", delta)})
}

func (r *RegistryRepository) updateContract(ctx context.Context, code string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	result := r.DB.WithContext(ctx).Model(&models.Contract{}).Where("contract_code = ?", code).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update contract %s: %w", code, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireContracts deactivates active contracts whose expiration date is before asOf's date
func (r *RegistryRepository) ExpireContracts(ctx context.Context, asOf time.Time) (int64, error) {
	day := asOf.UTC().Truncate(24 * time.Hour)
	result := r.DB.WithContext(ctx).Model(&models.Contract{}).
		Where("is_active = ? AND expiration_date < ?", true, day).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire contracts: %w", result.Error)
	}
	return result.RowsAffected, nil
}
