package repository

import (
	"context"
	"fmt"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"gorm.io/gorm"
)

// BarsNotifyChannel is the postgres channel notified on every second bar write
var BarsNotifyChannel = "CH:FTS:BARS"

// hypertable describes how a time-series table is partitioned
type hypertable struct {
	table         string
	chunkInterval string
	segmentBy     string
	compress      bool
}

var hypertables = []hypertable{
	{models.TicksTableName, "10 seconds", "symbol, contract, exchange", true},
	{models.SecondBarsTableName, "1 minute", "symbol, contract, exchange", true},
	{models.MinuteBarsTableName, "1 hour", "symbol, contract, exchange", true},
	{models.FiveMinTableName, "1 day", "symbol, contract, exchange", true},
	{models.FifteenMinTableName, "1 day", "symbol, contract, exchange", true},
	{models.HourBarsTableName, "7 days", "symbol, contract, exchange", true},
	{models.FeaturesTableName, "1 day", "", false},
	{models.PredictionsTableName, "1 day", "", false},
	{models.TradesTableName, "1 day", "", false},
}

var secondaryIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_seconds_symbol_time ON market_data_seconds (symbol, timestamp DESC)",
	"CREATE INDEX IF NOT EXISTS idx_seconds_exchange_time ON market_data_seconds (exchange, timestamp DESC)",
	"CREATE INDEX IF NOT EXISTS idx_minutes_symbol_time ON market_data_minutes (symbol, timestamp DESC)",
	"CREATE INDEX IF NOT EXISTS idx_ticks_symbol_time ON raw_tick_data (symbol, timestamp DESC)",
	"CREATE INDEX IF NOT EXISTS idx_predictions_symbol_time ON predictions (symbol, timestamp DESC)",
	"CREATE INDEX IF NOT EXISTS idx_features_symbol_time ON features (symbol, timeframe, timestamp DESC)",
	"CREATE INDEX IF NOT EXISTS idx_trades_trade_id ON trades (trade_id)",
}

// SchemaReport summarises what an initialisation pass did
type SchemaReport struct {
	Timescale   bool     `json:"timescale"`
	Hypertables []string `json:"hypertables"`
	Compressed  []string `json:"compression_enabled"`
	Indexes     int      `json:"indexes"`
	Trigger     bool     `json:"notify_trigger"`
}

// SchemaRepository applies the time-series specific schema on top of the
// gorm migrated tables. Every statement is idempotent.
type SchemaRepository struct {
	DB *gorm.DB
}

// NewSchemaRepository creates a new SchemaRepository
func NewSchemaRepository(db *gorm.DB) *SchemaRepository {
	return &SchemaRepository{DB: db}
}

// TimescaleAvailable reports whether the extension can be installed
func (r *SchemaRepository) TimescaleAvailable(ctx context.Context) (bool, error) {
	var available bool
	err := r.DB.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'timescaledb')").
		Scan(&available).Error
	if err != nil {
		return false, fmt.Errorf("failed to check timescaledb availability: %w", err)
	}
	return available, nil
}

// Init creates hypertables, compression settings, indexes and the bar notify trigger
func (r *SchemaRepository) Init(ctx context.Context) (*SchemaReport, error) {
	db := r.DB.WithContext(ctx)
	report := &SchemaReport{}

	available, err := r.TimescaleAvailable(ctx)
	if err != nil {
		return nil, err
	}

	if available {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS timescaledb").Error; err != nil {
			return nil, fmt.Errorf("failed to create timescaledb extension: %w", err)
		}
		report.Timescale = true

		for _, ht := range hypertables {
			sql := fmt.Sprintf(
				"SELECT create_hypertable('%s', 'timestamp', chunk_time_interval => INTERVAL '%s', if_not_exists => TRUE, migrate_data => TRUE)",
				ht.table, ht.chunkInterval)
			if err := db.Exec(sql).Error; err != nil {
				return nil, fmt.Errorf("failed to create hypertable %s: %w", ht.table, err)
			}
			report.Hypertables = append(report.Hypertables, ht.table)

			if !ht.compress {
				continue
			}
			sql = fmt.Sprintf(
				"ALTER TABLE %s SET (timescaledb.compress, timescaledb.compress_segmentby = '%s', timescaledb.compress_orderby = 'timestamp DESC')",
				ht.table, ht.segmentBy)
			if err := db.Exec(sql).Error; err != nil {
				return nil, fmt.Errorf("failed to enable compression on %s: %w", ht.table, err)
			}
			report.Compressed = append(report.Compressed, ht.table)
		}
	} else {
		zaplogger.Warn("timescaledb not available, using plain postgres tables")
	}

	for _, stmt := range secondaryIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		report.Indexes++
	}

	if err := r.createNotifyTrigger(db); err != nil {
		return nil, err
	}
	report.Trigger = true

	return report, nil
}

func (r *SchemaRepository) createNotifyTrigger(db *gorm.DB) error {
	function := fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_second_bar() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%s', json_build_object(
		'timestamp', NEW.timestamp,
		'symbol', NEW.symbol,
		'contract', NEW.contract,
		'exchange', NEW.exchange,
		'close', NEW.close,
		'volume', NEW.volume)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`, BarsNotifyChannel)

	statements := []string{
		function,
		"DROP TRIGGER IF EXISTS trg_notify_second_bar ON " + models.SecondBarsTableName,
		"CREATE TRIGGER trg_notify_second_bar AFTER INSERT OR UPDATE ON " + models.SecondBarsTableName +
			" FOR EACH ROW EXECUTE FUNCTION notify_second_bar()",
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create notify trigger: %w", err)
		}
	}
	return nil
}
