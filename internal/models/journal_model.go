package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Prediction is a write-once model output for one instrument and instant
type Prediction struct {
	Timestamp                time.Time           `gorm:"primaryKey;type:timestamptz;not null" json:"timestamp"`
	Symbol                   string              `gorm:"primaryKey;type:varchar(10);not null" json:"symbol"`
	Contract                 string              `gorm:"primaryKey;type:varchar(10);not null" json:"contract"`
	Exchange                 string              `gorm:"primaryKey;type:varchar(10);not null" json:"exchange"`
	ModelVersion             string              `gorm:"primaryKey;type:varchar(20);not null" json:"model_version"`
	ModelType                string              `gorm:"type:varchar(50);not null" json:"model_type"`
	DirectionPrediction      int                 `gorm:"not null" json:"direction_prediction"`
	ConfidenceScore          decimal.Decimal     `gorm:"type:decimal(5,2);not null" json:"confidence_score"`
	PipMovementPrediction    decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"pip_movement_prediction"`
	LongProbability          decimal.NullDecimal `gorm:"type:decimal(5,4)" json:"long_probability"`
	ShortProbability         decimal.NullDecimal `gorm:"type:decimal(5,4)" json:"short_probability"`
	PredictionHorizonMinutes int                 `json:"prediction_horizon_minutes"`
	ExchangeAdjustmentFactor decimal.NullDecimal `gorm:"type:decimal(5,4)" json:"exchange_adjustment_factor"`
	FeaturesUsed             pq.StringArray      `gorm:"type:text[]" json:"features_used"`
	CreatedAt                time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the Prediction model
func (Prediction) TableName() string {
	return PredictionsTableName
}

// PredictionFilter narrows prediction reads
type PredictionFilter struct {
	Symbol       string
	ModelVersion string
	From         time.Time
	To           time.Time
	Limit        int
}

// Trade is an executed position, created on entry and closed once
type Trade struct {
	ID                int64               `gorm:"column:trade_id;primaryKey;autoIncrement" json:"trade_id"`
	Timestamp         time.Time           `gorm:"primaryKey;type:timestamptz;not null" json:"timestamp"`
	Symbol            string              `gorm:"type:varchar(10);index;not null" json:"symbol"`
	Contract          string              `gorm:"type:varchar(10);not null" json:"contract"`
	Exchange          string              `gorm:"type:varchar(10);not null" json:"exchange"`
	Side              string              `gorm:"type:varchar(4);not null" json:"side"`
	Quantity          int                 `gorm:"not null" json:"quantity"`
	EntryPrice        decimal.Decimal     `gorm:"type:decimal(12,4);not null" json:"entry_price"`
	ExitTimestamp     *time.Time          `gorm:"type:timestamptz" json:"exit_timestamp,omitempty"`
	ExitPrice         decimal.NullDecimal `gorm:"type:decimal(12,4)" json:"exit_price"`
	Pnl               decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"pnl"`
	PnlPercent        decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"pnl_percent"`
	Commission        decimal.Decimal     `gorm:"type:decimal(8,2)" json:"commission"`
	ConfidenceAtEntry decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"confidence_at_entry"`
	ModelVersion      string              `gorm:"type:varchar(20)" json:"model_version"`
	RouteExchange     string              `gorm:"type:varchar(10)" json:"route_exchange"`
	ExecutionVenue    string              `gorm:"type:varchar(20)" json:"execution_venue"`
	TradeType         string              `gorm:"type:varchar(20)" json:"trade_type"`
	Notes             string              `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the Trade model
func (Trade) TableName() string {
	return TradesTableName
}

// IsOpen reports whether the trade has no exit yet
func (t Trade) IsOpen() bool {
	return t.ExitTimestamp == nil
}

// TradeExit carries the values written when a trade is closed
type TradeExit struct {
	Timestamp  time.Time
	Price      decimal.Decimal
	Pnl        decimal.Decimal
	PnlPercent decimal.Decimal
	Commission decimal.Decimal
	Notes      string
}

// TradeFilter narrows trade reads
type TradeFilter struct {
	Symbol   string
	OpenOnly bool
	Limit    int
}
