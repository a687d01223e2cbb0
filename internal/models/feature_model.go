package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Job run statuses
const (
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusSkipped   = "skipped"
)

var JobRunsTableName = "job_runs"

// Feature holds the indicator values computed for one bar
type Feature struct {
	Timestamp     time.Time           `gorm:"primaryKey;type:timestamptz;not null" json:"timestamp"`
	Symbol        string              `gorm:"primaryKey;type:varchar(10);not null" json:"symbol"`
	Contract      string              `gorm:"primaryKey;type:varchar(10);not null" json:"contract"`
	Exchange      string              `gorm:"primaryKey;type:varchar(10);not null" json:"exchange"`
	Timeframe     string              `gorm:"primaryKey;type:varchar(5);not null" json:"timeframe"`
	Sma5          decimal.NullDecimal `gorm:"column:sma_5;type:decimal(12,4)" json:"sma_5"`
	Sma10         decimal.NullDecimal `gorm:"column:sma_10;type:decimal(12,4)" json:"sma_10"`
	Sma20         decimal.NullDecimal `gorm:"column:sma_20;type:decimal(12,4)" json:"sma_20"`
	Sma50         decimal.NullDecimal `gorm:"column:sma_50;type:decimal(12,4)" json:"sma_50"`
	Ema12         decimal.NullDecimal `gorm:"column:ema_12;type:decimal(12,4)" json:"ema_12"`
	Ema26         decimal.NullDecimal `gorm:"column:ema_26;type:decimal(12,4)" json:"ema_26"`
	Macd          decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"macd"`
	MacdSignal    decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"macd_signal"`
	MacdHistogram decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"macd_histogram"`
	Rsi           decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"rsi"`
	VolumeSma     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"volume_sma"`
	VolumeRatio   decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"volume_ratio"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"-"`
}

// TableName specifies the table name for the Feature model
func (Feature) TableName() string {
	return FeaturesTableName
}

// JobRun records one execution of a scheduled job
type JobRun struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobName    string         `gorm:"type:varchar(100);index;not null" json:"job_name"`
	StartedAt  time.Time      `gorm:"type:timestamptz;index;not null" json:"started_at"`
	FinishedAt *time.Time     `gorm:"type:timestamptz" json:"finished_at,omitempty"`
	Status     string         `gorm:"type:varchar(20);not null" json:"status"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
}

// TableName specifies the table name for the JobRun model
func (JobRun) TableName() string {
	return JobRunsTableName
}
