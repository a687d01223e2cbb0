package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBPool is the subset of pgxpool.Pool used by the pgx repositories
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ConnectPostgres connects to Postgres and migrates the tables
func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	zaplogger.Info(config.SingleLine)
	zaplogger.Info("Initializing Postgres")
	zaplogger.Info(config.SingleLine)

	var logLevel logger.LogLevel
	switch cfg.Postgres.LogLevel {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	schema := cfg.Postgres.Schema
	if schema == "" {
		schema = "public"
	}
	dsn := cfg.Postgres.Dsn + " search_path=" + schema + ",public"

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	zaplogger.Info("  * connected")

	if schema != "public" {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	zaplogger.Info("  * migrating schema: \"" + schema + "\"")

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	tables := []struct {
		name  string
		model interface{}
	}{
		{models.ExchangesTableName, &models.Exchange{}},
		{models.InstrumentsTableName, &models.Instrument{}},
		{models.ContractsTableName, &models.Contract{}},
		{models.TicksTableName, &models.Tick{}},
		{models.PredictionsTableName, &models.Prediction{}},
		{models.TradesTableName, &models.Trade{}},
		{models.FeaturesTableName, &models.Feature{}},
		{models.JobRunsTableName, &models.JobRun{}},
	}
	for _, tf := range models.Timeframes {
		tables = append(tables, struct {
			name  string
			model interface{}
		}{tf.TableName(), &models.Bar{}})
	}

	zaplogger.Info("  * migrating tables")
	for _, table := range tables {
		if err := db.Table(table.name).AutoMigrate(table.model); err != nil {
			return fmt.Errorf("failed to auto migrate table: %s, err: %w", table.name, err)
		}
		zaplogger.Info("    - \"" + table.name + "\"")
	}

	return nil
}

// ConnectPgxPool opens the pgx pool used for high volume appends
func ConnectPgxPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.Dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Postgres.MaxConns
	}
	if cfg.Postgres.Schema != "" && cfg.Postgres.Schema != "public" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Postgres.Schema + ",public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}
