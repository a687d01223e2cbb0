package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Schedule:           "@every 1h",
		Ticks:              7 * 24 * time.Hour,
		Seconds:            365 * 24 * time.Hour,
		Minutes:            2 * 365 * 24 * time.Hour,
		Predictions:        180 * 24 * time.Hour,
		TicksCompressAfter: time.Hour,
		BarsCompressAfter:  24 * time.Hour,
	}
}

func resultFor(t *testing.T, results []RetentionResult, table string) RetentionResult {
	t.Helper()
	for _, r := range results {
		if r.Table == table {
			return r
		}
	}
	t.Fatalf("no result for %s", table)
	return RetentionResult{}
}

func TestRetentionService_Run(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemStore()
	retention := NewRetentionService(store, RetentionPolicies(testRetentionConfig()))

	now := t0
	for i, age := range []time.Duration{8 * 24 * time.Hour, 10 * 24 * time.Hour, 2 * time.Hour, time.Minute} {
		_, err := store.InsertTick(ctx, &models.Tick{
			Timestamp: now.Add(-age), Symbol: "NQ", Contract: "NQZ24", Exchange: "CME",
			SequenceNumber: int64(i), Price: decimal.NewFromInt(21000), Size: 1, TickType: models.TickTypeTrade,
		})
		require.NoError(t, err)
	}

	results, err := retention.Run(ctx, now)
	require.NoError(t, err)
	assert.Len(t, results, len(retention.Policies()))

	ticks := resultFor(t, results, models.TicksTableName)
	assert.Equal(t, int64(2), ticks.Purged)
	// only the two hour old tick is past the compression horizon
	assert.Equal(t, int64(1), ticks.Compressed)

	n, err := store.CountTicks(ctx, "NQ", now.Add(-30*24*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// a second pass finds nothing new
	results, err = retention.Run(ctx, now)
	require.NoError(t, err)
	ticks = resultFor(t, results, models.TicksTableName)
	assert.Equal(t, int64(0), ticks.Purged)
	assert.Equal(t, int64(0), ticks.Compressed)
}

type failingMaintenance struct {
	MaintenanceStore
	table string
}

func (f failingMaintenance) Purge(ctx context.Context, table string, before time.Time) (int64, error) {
	if table == f.table {
		return 0, errors.New("disk full")
	}
	return f.MaintenanceStore.Purge(ctx, table, before)
}

func TestRetentionService_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	store := failingMaintenance{MaintenanceStore: repository.NewMemStore(), table: models.TicksTableName}
	retention := NewRetentionService(store, RetentionPolicies(testRetentionConfig()))

	results, err := retention.Run(ctx, t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, results, len(retention.Policies()))
	assert.NotEmpty(t, resultFor(t, results, models.TicksTableName).Error)
	assert.Empty(t, resultFor(t, results, models.PredictionsTableName).Error)
}

func TestRetentionService_UnknownTable(t *testing.T) {
	retention := NewRetentionService(repository.NewMemStore(), []RetentionPolicy{{Table: "users", RetainFor: time.Hour}})

	_, err := retention.Run(context.Background(), t0)
	assert.ErrorIs(t, err, repository.ErrUnknownTable)
}
