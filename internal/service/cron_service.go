package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
)

// Job names
const (
	JobRetention      = "retention"
	JobContractExpiry = "contract-expiry"
	JobFeatures       = "features-1m"
)

// AggregationJobName names the refresh job of a derived timeframe
func AggregationJobName(tf models.Timeframe) string {
	return "aggregate-" + string(tf)
}

// jobTimeout bounds one run and the lease taken for it
const jobTimeout = 10 * time.Minute

var (
	ErrUnknownJob = errors.New("unknown job")
	errJobSkipped = errors.New("job skipped")
)

// JobFunc is one scheduled unit of work. Its result is stored as the run details.
type JobFunc func(ctx context.Context, now time.Time) (interface{}, error)

// JobInfo describes a registered job
type JobInfo struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

type registeredJob struct {
	JobInfo
	fn JobFunc
}

// CronDeps are the services the scheduled jobs drive
type CronDeps struct {
	Aggregation *AggregationService
	Retention   *RetentionService
	Registry    *RegistryService
	Features    *FeatureService
	JobRuns     JobRunStore
	Locker      JobLocker
	Notifier    Notifier
}

// CronService is the service for the scheduled jobs. A job never overlaps
// itself, and with a locker it runs on one instance at a time. A failed run
// is not retried; the next scheduled run reconciles.
type CronService struct {
	c        *cron.Cron
	runs     JobRunStore
	locker   JobLocker
	notifier Notifier
	registry *RegistryService
	now      func() time.Time

	jobs map[string]registeredJob

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	failures map[string]int
}

// NewCronService creates a new CronService and registers its jobs
func NewCronService(cfg *config.Config, deps CronDeps) *CronService {
	ctx, cancel := context.WithCancel(context.Background())
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	logger := cronLogger{}
	cs := &CronService{
		c: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runs:     deps.JobRuns,
		locker:   deps.Locker,
		notifier: notifier,
		registry: deps.Registry,
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[string]registeredJob),
		ctx:      ctx,
		cancel:   cancel,
		failures: make(map[string]int),
	}

	if deps.Aggregation != nil {
		for _, tf := range models.AggregatedTimeframes {
			w, ok := deps.Aggregation.JobWindow(tf)
			if !ok || w.ScheduleInterval <= 0 {
				continue
			}
			tf := tf
			cs.register(AggregationJobName(tf), "@every "+w.ScheduleInterval.String(), func(ctx context.Context, now time.Time) (interface{}, error) {
				return deps.Aggregation.RunOnce(ctx, tf, now)
			})
		}
	}

	if deps.Retention != nil {
		cs.register(JobRetention, cfg.Retention.Schedule, func(ctx context.Context, now time.Time) (interface{}, error) {
			return deps.Retention.Run(ctx, now)
		})
	}

	if deps.Registry != nil {
		cs.register(JobContractExpiry, cfg.Retention.ContractExpirySchedule, func(ctx context.Context, now time.Time) (interface{}, error) {
			n, err := deps.Registry.ExpireContracts(ctx, now)
			return map[string]int64{"expired": n}, err
		})
	}

	if deps.Features != nil && cfg.Features.Enabled && cfg.Features.Schedule > 0 {
		cs.register(JobFeatures, "@every "+cfg.Features.Schedule.String(), func(ctx context.Context, now time.Time) (interface{}, error) {
			if !IsSessionOpen(now) {
				return nil, errJobSkipped
			}
			n, err := deps.Features.RunOnce(ctx, models.Timeframe1m, now)
			return map[string]int{"written": n}, err
		})
	}

	return cs
}

func (cs *CronService) register(name, schedule string, fn JobFunc) {
	cs.jobs[name] = registeredJob{JobInfo: JobInfo{Name: name, Schedule: schedule}, fn: fn}
}

// Start schedules every registered job
func (cs *CronService) Start() {
	zaplogger.Info("Initializing CronService")

	names := make([]string, 0, len(cs.jobs))
	for name := range cs.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cs.addScheduledJob(name, cs.jobs[name].Schedule)
	}

	if cs.registry != nil {
		cs.addStartupJob("Registry REFRESH Job", func() {
			if err := cs.registry.Refresh(cs.ctx); err != nil {
				zaplogger.Error("Registry REFRESH Job", zaplogger.Fields{"error": err.Error()})
			}
		}, time.Second)
	}

	cs.c.Start()
}

// Stop stops scheduling and waits for running jobs to finish
func (cs *CronService) Stop() {
	<-cs.c.Stop().Done()
	cs.cancel()
}

// Jobs lists the registered jobs by name
func (cs *CronService) Jobs() []JobInfo {
	out := make([]JobInfo, 0, len(cs.jobs))
	for _, j := range cs.jobs {
		out = append(out, j.JobInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunJob runs a registered job now, outside its schedule
func (cs *CronService) RunJob(ctx context.Context, name string) (*models.JobRun, error) {
	if _, ok := cs.jobs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return cs.runJob(ctx, name), nil
}

// addStartupJob adds a startup job to the cron service
func (cs *CronService) addStartupJob(name string, job func(), delay time.Duration) {
	go func() {
		select {
		case <-cs.ctx.Done():
			return
		case <-time.After(delay):
		}
		zaplogger.Info("STARTED STARTUP job", zaplogger.Fields{"job": name})
		job()
		zaplogger.Info("COMPLETED STARTUP job", zaplogger.Fields{"job": name})
	}()
	zaplogger.Info("QUEUED STARTUP job", zaplogger.Fields{"job": name})
}

func (cs *CronService) addScheduledJob(name, schedule string) {
	_, err := cs.c.AddFunc(schedule, func() {
		zaplogger.Info("STARTED SCHEDULED JOB", zaplogger.Fields{"job": name})
		run := cs.runJob(cs.ctx, name)
		zaplogger.Info("COMPLETED SCHEDULED JOB", zaplogger.Fields{
			"job":    name,
			"status": run.Status,
		})
	})
	if err != nil {
		zaplogger.Error("FAILED TO QUEUE SCHEDULED JOB", zaplogger.Fields{
			"job":      name,
			"schedule": schedule,
			"error":    err.Error(),
		})
		return
	}
	zaplogger.Info("QUEUED SCHEDULED job", zaplogger.Fields{
		"job":      name,
		"schedule": schedule,
	})
}

// runJob executes and records one run. A run whose lease is held elsewhere is
// recorded as skipped.
func (cs *CronService) runJob(parent context.Context, name string) *models.JobRun {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	now := cs.now()
	run := &models.JobRun{
		ID:        uuid.New(),
		JobName:   name,
		StartedAt: now,
		Status:    models.JobStatusRunning,
	}

	if cs.runs != nil {
		if err := cs.runs.CreateJobRun(ctx, run); err != nil {
			zaplogger.Warn("failed to record job run", zaplogger.Fields{"job": name, "error": err.Error()})
		}
	}

	if cs.locker != nil {
		ok, err := cs.locker.Acquire(ctx, name, jobTimeout)
		if err != nil {
			cs.finish(ctx, run, nil, fmt.Errorf("failed to acquire job lease: %w", err))
			return run
		}
		if !ok {
			run.Error = "lease held by another instance"
			cs.finish(ctx, run, nil, errJobSkipped)
			return run
		}
		defer func() {
			if err := cs.locker.Release(context.Background(), name); err != nil {
				zaplogger.Warn("failed to release job lease", zaplogger.Fields{"job": name, "error": err.Error()})
			}
		}()
	}

	result, err := cs.jobs[name].fn(ctx, now)
	cs.finish(ctx, run, result, err)
	return run
}

func (cs *CronService) finish(ctx context.Context, run *models.JobRun, result interface{}, err error) {
	finished := cs.now()
	run.FinishedAt = &finished

	switch {
	case errors.Is(err, errJobSkipped):
		run.Status = models.JobStatusSkipped
	case err != nil:
		run.Status = models.JobStatusFailed
		run.Error = err.Error()
	default:
		run.Status = models.JobStatusSucceeded
	}

	if result != nil {
		if b, mErr := json.Marshal(result); mErr == nil {
			run.Details = datatypes.JSON(b)
		}
	}

	if cs.runs != nil {
		if fErr := cs.runs.FinishJobRun(ctx, run); fErr != nil {
			zaplogger.Warn("failed to record job run", zaplogger.Fields{"job": run.JobName, "error": fErr.Error()})
		}
	}

	cs.alert(ctx, run.JobName, run.Status, err)
}

// alert notifies on the first failure of a streak and on recovery
func (cs *CronService) alert(ctx context.Context, name, status string, err error) {
	cs.mu.Lock()
	failures := cs.failures[name]
	switch status {
	case models.JobStatusFailed:
		cs.failures[name] = failures + 1
	case models.JobStatusSucceeded:
		delete(cs.failures, name)
	}
	cs.mu.Unlock()

	switch {
	case status == models.JobStatusFailed:
		zaplogger.Error("job failed", zaplogger.Fields{"job": name, "error": err.Error()})
		if failures == 0 {
			if nErr := cs.notifier.JobFailed(ctx, name, err); nErr != nil {
				zaplogger.Warn("failed to send alert", zaplogger.Fields{"job": name, "error": nErr.Error()})
			}
		}
	case status == models.JobStatusSucceeded && failures > 0:
		if nErr := cs.notifier.JobRecovered(ctx, name, failures); nErr != nil {
			zaplogger.Warn("failed to send alert", zaplogger.Fields{"job": name, "error": nErr.Error()})
		}
	}
}

// cronLogger routes the scheduler's own logs to zaplogger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zaplogger.Debug("cron: "+msg, keyValueFields(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := keyValueFields(keysAndValues)
	fields["error"] = err.Error()
	zaplogger.Error("cron: "+msg, fields)
}

func keyValueFields(keysAndValues []interface{}) zaplogger.Fields {
	fields := zaplogger.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
