package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"gorm.io/gorm"
)

// managedTables are the time-series tables maintenance may touch
var managedTables = map[string]bool{
	models.TicksTableName:       true,
	models.SecondBarsTableName:  true,
	models.MinuteBarsTableName:  true,
	models.FiveMinTableName:     true,
	models.FifteenMinTableName:  true,
	models.HourBarsTableName:    true,
	models.PredictionsTableName: true,
	models.FeaturesTableName:    true,
}

// MaintenanceRepository purges and compresses time-series tables. With
// TimescaleDB it works on chunks, on plain postgres it deletes rows and
// compression is a no-op.
type MaintenanceRepository struct {
	DB *gorm.DB

	mu        sync.Mutex
	probed    bool
	timescale bool
}

// NewMaintenanceRepository creates a new MaintenanceRepository
func NewMaintenanceRepository(db *gorm.DB) *MaintenanceRepository {
	return &MaintenanceRepository{DB: db}
}

// TimescaleEnabled reports whether the timescaledb extension is installed.
// Only a successful probe is cached; a failed one is retried on the next call.
func (r *MaintenanceRepository) TimescaleEnabled(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probed {
		return r.timescale, nil
	}

	var timescale bool
	err := r.DB.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')").
		Scan(&timescale).Error
	if err != nil {
		return false, fmt.Errorf("failed to probe timescaledb: %w", err)
	}
	r.timescale = timescale
	r.probed = true
	return timescale, nil
}

// Purge removes data older than before. It returns dropped chunks on
// TimescaleDB and deleted rows otherwise.
func (r *MaintenanceRepository) Purge(ctx context.Context, table string, before time.Time) (int64, error) {
	if !managedTables[table] {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	timescale, err := r.TimescaleEnabled(ctx)
	if err != nil {
		return 0, err
	}

	db := r.DB.WithContext(ctx)
	if timescale {
		var dropped int64
		err := db.Raw("SELECT COUNT(*) FROM drop_chunks(?::regclass, older_than => ?::timestamptz)", table, before).
			Scan(&dropped).Error
		if err != nil {
			return 0, fmt.Errorf("failed to drop chunks of %s: %w", table, err)
		}
		return dropped, nil
	}

	result := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), before)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", table, result.Error)
	}
	return result.RowsAffected, nil
}

// Compress compresses chunks older than olderThan and returns how many were
// newly compressed.
func (r *MaintenanceRepository) Compress(ctx context.Context, table string, olderThan time.Time) (int64, error) {
	if !managedTables[table] {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	timescale, err := r.TimescaleEnabled(ctx)
	if err != nil {
		return 0, err
	}
	if !timescale {
		return 0, nil
	}

	var compressed int64
	err = r.DB.WithContext(ctx).Raw(`
SELECT COUNT(compress_chunk(c, if_not_compressed => TRUE))
FROM show_chunks(?::regclass, older_than => ?::timestamptz) c
WHERE NOT EXISTS (
	SELECT 1 FROM timescaledb_information.chunks i
	WHERE format('%I.%I', i.chunk_schema, i.chunk_name)::regclass = c AND i.is_compressed
)`, table, olderThan).Scan(&compressed).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compress %s: %w", table, err)
	}
	return compressed, nil
}
