package repository

import (
	"context"
	"fmt"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"gorm.io/gorm"
)

// JobRunRepository records scheduled job executions
type JobRunRepository struct {
	DB *gorm.DB
}

// NewJobRunRepository creates a new JobRunRepository
func NewJobRunRepository(db *gorm.DB) *JobRunRepository {
	return &JobRunRepository{DB: db}
}

// CreateJobRun inserts a running job record
func (r *JobRunRepository) CreateJobRun(ctx context.Context, run *models.JobRun) error {
	if err := r.DB.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

// FinishJobRun stores the final status of a job record
func (r *JobRunRepository) FinishJobRun(ctx context.Context, run *models.JobRun) error {
	err := r.DB.WithContext(ctx).Model(&models.JobRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"finished_at": run.FinishedAt,
		"status":      run.Status,
		"error":       run.Error,
		"details":     run.Details,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// ListJobRuns returns the most recent runs, optionally for a single job
func (r *JobRunRepository) ListJobRuns(ctx context.Context, jobName string, limit int) ([]models.JobRun, error) {
	query := r.DB.WithContext(ctx).Model(&models.JobRun{})
	if jobName != "" {
		query = query.Where("job_name = ?", jobName)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.JobRun
	if err := query.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	return runs, nil
}
