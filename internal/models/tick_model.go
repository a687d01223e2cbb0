package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick types
const (
	TickTypeTrade = "trade"
	TickTypeBid   = "bid"
	TickTypeAsk   = "ask"
)

// Tick is an append-only raw market event
type Tick struct {
	Timestamp         time.Time       `gorm:"primaryKey;type:timestamptz;not null" json:"timestamp"`
	Symbol            string          `gorm:"primaryKey;type:varchar(10);not null" json:"symbol"`
	Contract          string          `gorm:"primaryKey;type:varchar(10);not null" json:"contract"`
	Exchange          string          `gorm:"primaryKey;type:varchar(10);not null" json:"exchange"`
	SequenceNumber    int64           `gorm:"primaryKey;not null" json:"sequence_number"`
	ExchangeCode      string          `gorm:"type:varchar(10)" json:"exchange_code"`
	Price             decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"price"`
	Size              int64           `gorm:"not null" json:"size"`
	TickType          string          `gorm:"type:varchar(10);not null" json:"tick_type"`
	ExchangeTimestamp *time.Time      `gorm:"type:timestamptz" json:"exchange_timestamp,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"-"`
}

// TableName specifies the table name for the Tick model
func (Tick) TableName() string {
	return TicksTableName
}
