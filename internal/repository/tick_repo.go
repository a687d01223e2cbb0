package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
)

const insertTickSQL = `INSERT INTO raw_tick_data
	(timestamp, symbol, contract, exchange, sequence_number, exchange_code, price, size, tick_type, exchange_timestamp, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (timestamp, symbol, contract, exchange, sequence_number) DO NOTHING`

const countTicksSQL = `SELECT COUNT(*) FROM raw_tick_data WHERE symbol = $1 AND timestamp >= $2 AND timestamp < $3`

// TickRepository appends raw ticks through pgx
type TickRepository struct {
	pool DBPool
}

// NewTickRepository creates a new TickRepository
func NewTickRepository(pool DBPool) *TickRepository {
	return &TickRepository{pool: pool}
}

// InsertTick appends a tick. It reports false when the key already exists,
// in which case the stored tick is kept.
func (r *TickRepository) InsertTick(ctx context.Context, tick *models.Tick) (bool, error) {
	if tick.CreatedAt.IsZero() {
		tick.CreatedAt = time.Now().UTC()
	}

	tag, err := r.pool.Exec(ctx, insertTickSQL,
		tick.Timestamp,
		tick.Symbol,
		tick.Contract,
		tick.Exchange,
		tick.SequenceNumber,
		tick.ExchangeCode,
		tick.Price,
		tick.Size,
		tick.TickType,
		tick.ExchangeTimestamp,
		tick.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert tick: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountTicks returns how many ticks a symbol has in [from, to)
func (r *TickRepository) CountTicks(ctx context.Context, symbol string, from, to time.Time) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, countTicksSQL, symbol, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count ticks: %w", err)
	}
	return count, nil
}
