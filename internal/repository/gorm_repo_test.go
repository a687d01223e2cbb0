package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func sampleBar(ts time.Time) models.Bar {
	return models.Bar{
		Timestamp:    ts,
		Symbol:       "NQ",
		Contract:     "NQZ24",
		Exchange:     "CME",
		ExchangeCode: "XCME",
		Open:         decimal.RequireFromString("21000"),
		High:         decimal.RequireFromString("21010.5"),
		Low:          decimal.RequireFromString("20995"),
		Close:        decimal.RequireFromString("21005.25"),
		Volume:       120,
		TickCount:    14,
	}
}

func TestBarRepository_UpsertBar(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewBarRepository(db)
	bar := sampleBar(time.Date(2024, 12, 2, 15, 4, 0, 0, time.UTC))

	mock.ExpectExec(`INSERT INTO "market_data_minutes" .* ON CONFLICT \("timestamp","symbol","contract","exchange"\) DO UPDATE SET "exchange_code"="excluded"."exchange_code",.*"close"="excluded"."close",.*"volume"="excluded"."volume"`).
		WithArgs(bar.Timestamp, "NQ", "NQZ24", "CME", "XCME",
			bar.Open, bar.High, bar.Low, bar.Close, int64(120), int64(14),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertBar(context.Background(), models.Timeframe1m, &bar))
	assert.NoError(t, mock.ExpectationsWereMet())

	// the insert time of the first write is kept
	assert.NotContains(t, barValueColumns, "created_at")
	for _, key := range barKeyColumns {
		assert.NotContains(t, barValueColumns, key.Name)
	}
}

func TestBarRepository_UpsertBarError(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewBarRepository(db)
	bar := sampleBar(time.Date(2024, 12, 2, 15, 4, 0, 0, time.UTC))

	mock.ExpectExec(`INSERT INTO "market_data_seconds"`).WillReturnError(errors.New("connection reset"))

	err := repo.UpsertBar(context.Background(), models.Timeframe1s, &bar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error upserting 1s bar")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarRepository_ReplaceBars(t *testing.T) {
	from := time.Date(2024, 12, 2, 15, 0, 0, 0, time.UTC)
	to := from.Add(5 * time.Minute)

	t.Run("window is cleared then filled", func(t *testing.T) {
		db, mock := newMockGorm(t)
		repo := NewBarRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "market_data_minutes" WHERE timestamp >= $1 AND timestamp < $2`)).
			WithArgs(from, to).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`INSERT INTO "market_data_minutes" .* VALUES \(.*\),\(.*\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		bars := []models.Bar{sampleBar(from), sampleBar(from.Add(time.Minute))}
		require.NoError(t, repo.ReplaceBars(context.Background(), models.Timeframe1m, from, to, bars))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty window only deletes", func(t *testing.T) {
		db, mock := newMockGorm(t)
		repo := NewBarRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "market_data_minutes"`)).
			WithArgs(from, to).
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectCommit()

		require.NoError(t, repo.ReplaceBars(context.Background(), models.Timeframe1m, from, to, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed insert rolls back the delete", func(t *testing.T) {
		db, mock := newMockGorm(t)
		repo := NewBarRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "market_data_minutes"`)).
			WithArgs(from, to).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`INSERT INTO "market_data_minutes"`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.ReplaceBars(context.Background(), models.Timeframe1m, from, to, []models.Bar{sampleBar(from)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert market_data_minutes bars")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQueryRepository_LatestPrices(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewQueryRepository(db)
	since := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	ts := since.Add(15 * time.Hour)

	rows := sqlmock.NewRows([]string{"symbol", "contract", "exchange", "exchange_code", "timestamp", "close", "volume", "bid", "ask", "spread"}).
		AddRow("NQ", "NQZ24", "CME", "XCME", ts, "21005.25", int64(40), "21005", "21005.5", "0.5").
		AddRow("NQ", "NQZ24", "EUREX", "XEUR", ts.Add(-time.Second), "21006", int64(3), nil, nil, nil)

	mock.ExpectQuery(`SELECT DISTINCT ON \(contract, exchange\).*FROM market_data_seconds\s+WHERE symbol = \$1 AND timestamp >= \$2\s+ORDER BY contract, exchange, timestamp DESC`).
		WithArgs("NQ", since).
		WillReturnRows(rows)

	prices, err := repo.LatestPrices(context.Background(), "NQ", since)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "CME", prices[0].Exchange)
	assert.Equal(t, "XCME", prices[0].ExchangeCode)
	assert.True(t, prices[0].Close.Equal(decimal.RequireFromString("21005.25")))
	assert.True(t, prices[0].Spread.Valid)
	assert.True(t, prices[0].Timestamp.Equal(ts))
	assert.False(t, prices[1].Bid.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func tradeRows(exitAt interface{}) *sqlmock.Rows {
	entry := time.Date(2024, 12, 2, 14, 30, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"trade_id", "timestamp", "symbol", "contract", "exchange", "side", "quantity", "entry_price", "exit_timestamp", "commission", "notes"}).
		AddRow(int64(7), entry, "NQ", "NQZ24", "CME", "BUY", int64(1), "21000", exitAt, "0", "breakout")
}

func TestJournalRepository_CloseTrade(t *testing.T) {
	exit := models.TradeExit{
		Timestamp:  time.Date(2024, 12, 2, 15, 0, 0, 0, time.UTC),
		Price:      decimal.RequireFromString("21005"),
		Pnl:        decimal.RequireFromString("100"),
		PnlPercent: decimal.RequireFromString("0.0238"),
		Commission: decimal.RequireFromString("4.5"),
	}

	t.Run("open trade is locked and closed", func(t *testing.T) {
		db, mock := newMockGorm(t)
		repo := NewJournalRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "trades" WHERE trade_id = \$1 .*FOR UPDATE`).
			WillReturnRows(tradeRows(nil))
		mock.ExpectExec(`UPDATE "trades" SET .*"exit_price"=.*"pnl"=.*WHERE trade_id = \$\d+ AND timestamp = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		trade, err := repo.CloseTrade(context.Background(), 7, exit)
		require.NoError(t, err)
		assert.Equal(t, int64(7), trade.ID)
		assert.False(t, trade.IsOpen())
		assert.True(t, trade.Pnl.Decimal.Equal(exit.Pnl))
		assert.True(t, trade.ExitPrice.Decimal.Equal(exit.Price))
		assert.Equal(t, "breakout", trade.Notes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed trade is left untouched", func(t *testing.T) {
		db, mock := newMockGorm(t)
		repo := NewJournalRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "trades" WHERE trade_id = \$1 .*FOR UPDATE`).
			WillReturnRows(tradeRows(time.Date(2024, 12, 2, 14, 45, 0, 0, time.UTC)))
		mock.ExpectRollback()

		_, err := repo.CloseTrade(context.Background(), 7, exit)
		assert.ErrorIs(t, err, ErrTradeClosed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown trade", func(t *testing.T) {
		db, mock := newMockGorm(t)
		repo := NewJournalRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "trades" WHERE trade_id = \$1 .*FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"trade_id"}))
		mock.ExpectRollback()

		_, err := repo.CloseTrade(context.Background(), 99, exit)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRegistryRepository_UpsertContractKeepsStats(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewRegistryRepository(db)

	mock.ExpectQuery(`INSERT INTO "contracts" .* ON CONFLICT \("contract_code"\) DO UPDATE SET "symbol"="excluded"."symbol",.*"is_active"="excluded"."is_active","updated_at"="excluded"."updated_at" RETURNING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	contract := &models.Contract{
		Code:           "NQZ24",
		Symbol:         "NQ",
		MonthCode:      "Z",
		Year:           2024,
		ExpirationDate: time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
	}
	require.NoError(t, repo.UpsertContract(context.Background(), contract))
	assert.Equal(t, uint(3), contract.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaintenanceRepository_ProbeRetriesAfterFailure(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewMaintenanceRepository(db)
	before := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	probe := regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')")

	// a cancelled caller never reaches the database
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.Purge(cancelled, models.SecondBarsTableName, before)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	mock.ExpectQuery(probe).WillReturnError(errors.New("connection refused"))
	_, err = repo.Purge(context.Background(), models.SecondBarsTableName, before)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to probe timescaledb")

	mock.ExpectQuery(probe).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM market_data_seconds WHERE timestamp < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))
	purged, err := repo.Purge(context.Background(), models.SecondBarsTableName, before)
	require.NoError(t, err)
	assert.Equal(t, int64(7), purged)

	// the successful probe is cached, plain postgres has nothing to compress
	compressed, err := repo.Compress(context.Background(), models.SecondBarsTableName, before)
	require.NoError(t, err)
	assert.Zero(t, compressed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaintenanceRepository_UnknownTable(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewMaintenanceRepository(db)

	_, err := repo.Purge(context.Background(), "contracts", time.Now())
	assert.ErrorIs(t, err, ErrUnknownTable)
	_, err = repo.Compress(context.Background(), "contracts", time.Now())
	assert.ErrorIs(t, err, ErrUnknownTable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
