package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	failed    []string
	recovered map[string]int
}

func (n *recordingNotifier) JobFailed(_ context.Context, job string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, job)
	return nil
}

func (n *recordingNotifier) JobRecovered(_ context.Context, job string, failures int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.recovered == nil {
		n.recovered = make(map[string]int)
	}
	n.recovered[job] = failures
	return nil
}

func testCronConfig() *config.Config {
	return &config.Config{
		Aggregation: testAggregationConfig(),
		Retention: func() config.RetentionConfig {
			r := testRetentionConfig()
			r.ContractExpirySchedule = "5 0 * * *"
			return r
		}(),
		Features: config.FeaturesConfig{Enabled: true, Lookback: 100, Schedule: time.Minute},
	}
}

func newTestCron(t *testing.T, locker JobLocker, notifier Notifier) (*repository.MemStore, *CronService) {
	t.Helper()
	store, registry := newSeededRegistry(t)
	cfg := testCronConfig()
	cs := NewCronService(cfg, CronDeps{
		Aggregation: NewAggregationService(store, cfg.Aggregation),
		Retention:   NewRetentionService(store, RetentionPolicies(cfg.Retention)),
		Registry:    registry,
		Features:    NewFeatureService(store, store, cfg.Features.Lookback),
		JobRuns:     store,
		Locker:      locker,
		Notifier:    notifier,
	})
	cs.now = func() time.Time { return t0.Add(10 * time.Minute) }
	return store, cs
}

func TestCronService_Jobs(t *testing.T) {
	_, cs := newTestCron(t, nil, nil)

	names := make([]string, 0)
	for _, j := range cs.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{
		"aggregate-15m", "aggregate-1h", "aggregate-1m", "aggregate-5m",
		JobContractExpiry, JobFeatures, JobRetention,
	}, names)

	for _, j := range cs.Jobs() {
		if j.Name == AggregationJobName(models.Timeframe5m) {
			assert.Equal(t, "@every 5m0s", j.Schedule)
		}
	}
}

func TestCronService_RunJobRecordsRun(t *testing.T) {
	ctx := context.Background()
	store, cs := newTestCron(t, nil, nil)

	storeSecondBars(t, store, secondBar(t0, "CME", 21000, 21000, 21000, 21000, 100))

	run, err := cs.RunJob(ctx, AggregationJobName(models.Timeframe5m))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Contains(t, string(run.Details), `"buckets":1`)

	runs, err := store.ListJobRuns(ctx, AggregationJobName(models.Timeframe5m), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, models.JobStatusSucceeded, runs[0].Status)

	bars, err := store.ListBars(ctx, models.Timeframe5m, models.BarFilter{})
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	_, err = cs.RunJob(ctx, "vacuum")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestCronService_FeaturesSkippedWhenSessionClosed(t *testing.T) {
	_, cs := newTestCron(t, nil, nil)
	cs.now = func() time.Time { return time.Date(2024, 11, 9, 18, 0, 0, 0, time.UTC) }

	run, err := cs.RunJob(context.Background(), JobFeatures)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSkipped, run.Status)
}

func TestCronService_AlertsOncePerFailureStreak(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	_, cs := newTestCron(t, nil, notifier)

	fail := true
	cs.register("flaky", "@every 1h", func(context.Context, time.Time) (interface{}, error) {
		if fail {
			return nil, errors.New("database unavailable")
		}
		return nil, nil
	})

	for i := 0; i < 3; i++ {
		run, err := cs.RunJob(ctx, "flaky")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, run.Status)
		assert.Equal(t, "database unavailable", run.Error)
	}
	assert.Equal(t, []string{"flaky"}, notifier.failed)

	fail = false
	run, err := cs.RunJob(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, run.Status)
	assert.Equal(t, 3, notifier.recovered["flaky"])

	// a later success does not alert again
	_, err = cs.RunJob(ctx, "flaky")
	require.NoError(t, err)
	assert.Len(t, notifier.recovered, 1)
	assert.Equal(t, 3, notifier.recovered["flaky"])
}

func TestCronService_LeaseHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	other := repository.NewRedisJobLock(client)
	ok, err := other.Acquire(ctx, JobRetention, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	store, cs := newTestCron(t, repository.NewRedisJobLock(client), nil)

	run, err := cs.RunJob(ctx, JobRetention)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSkipped, run.Status)

	require.NoError(t, other.Release(ctx, JobRetention))
	run, err = cs.RunJob(ctx, JobRetention)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, run.Status)
	// the lease is released after the run
	assert.False(t, s.Exists("FTS:JOBLOCK:"+JobRetention))

	runs, err := store.ListJobRuns(ctx, JobRetention, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
