package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
)

// RetentionPolicy is the purge and compression horizon of one table. A zero
// duration disables that half of the policy.
type RetentionPolicy struct {
	Table         string        `json:"table"`
	RetainFor     time.Duration `json:"retain_for"`
	CompressAfter time.Duration `json:"compress_after"`
}

// RetentionResult reports what one pass did to a table
type RetentionResult struct {
	Table      string `json:"table"`
	Purged     int64  `json:"purged"`
	Compressed int64  `json:"compressed"`
	Error      string `json:"error,omitempty"`
}

// RetentionPolicies builds the per-table policies from configuration
func RetentionPolicies(cfg config.RetentionConfig) []RetentionPolicy {
	return []RetentionPolicy{
		{Table: models.TicksTableName, RetainFor: cfg.Ticks, CompressAfter: cfg.TicksCompressAfter},
		{Table: models.SecondBarsTableName, RetainFor: cfg.Seconds, CompressAfter: cfg.BarsCompressAfter},
		{Table: models.MinuteBarsTableName, RetainFor: cfg.Minutes, CompressAfter: cfg.BarsCompressAfter},
		{Table: models.FiveMinTableName, CompressAfter: cfg.BarsCompressAfter},
		{Table: models.FifteenMinTableName, CompressAfter: cfg.BarsCompressAfter},
		{Table: models.HourBarsTableName, CompressAfter: cfg.BarsCompressAfter},
		{Table: models.PredictionsTableName, RetainFor: cfg.Predictions},
	}
}

// RetentionService ages out and compresses time-series tables
type RetentionService struct {
	store    MaintenanceStore
	policies []RetentionPolicy
}

// NewRetentionService creates a new RetentionService
func NewRetentionService(store MaintenanceStore, policies []RetentionPolicy) *RetentionService {
	return &RetentionService{store: store, policies: policies}
}

// Policies returns the configured policies
func (s *RetentionService) Policies() []RetentionPolicy {
	return s.policies
}

// Run applies every policy relative to now. A failing table does not stop
// the others; all failures are returned joined. Re-running on purged data
// removes nothing further.
func (s *RetentionService) Run(ctx context.Context, now time.Time) ([]RetentionResult, error) {
	results := make([]RetentionResult, 0, len(s.policies))
	var errs []error

	for _, p := range s.policies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		r := RetentionResult{Table: p.Table}
		var tableErrs []error

		if p.RetainFor > 0 {
			n, err := s.store.Purge(ctx, p.Table, now.Add(-p.RetainFor))
			if err != nil {
				tableErrs = append(tableErrs, fmt.Errorf("purge %s: %w", p.Table, err))
			}
			r.Purged = n
		}
		if p.CompressAfter > 0 {
			n, err := s.store.Compress(ctx, p.Table, now.Add(-p.CompressAfter))
			if err != nil {
				tableErrs = append(tableErrs, fmt.Errorf("compress %s: %w", p.Table, err))
			}
			r.Compressed = n
		}

		if err := errors.Join(tableErrs...); err != nil {
			r.Error = err.Error()
			errs = append(errs, err)
			zaplogger.Error("retention failed", zaplogger.Fields{"table": p.Table, "error": err.Error()})
		} else if r.Purged > 0 || r.Compressed > 0 {
			zaplogger.Info("retention applied", zaplogger.Fields{
				"table":      p.Table,
				"purged":     r.Purged,
				"compressed": r.Compressed,
			})
		}
		results = append(results, r)
	}

	return results, errors.Join(errs...)
}
