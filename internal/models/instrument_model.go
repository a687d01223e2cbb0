// Package models contains the models for the futures trading system
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Table names for the reference data
var (
	ExchangesTableName   = "exchanges"
	InstrumentsTableName = "instruments"
	ContractsTableName   = "contracts"
)

// Exchange is a trading venue identified by its market identifier code
type Exchange struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"code"`
	Name        string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	DisplayName string    `gorm:"type:varchar(100)" json:"display_name"`
	Country     string    `gorm:"type:varchar(2)" json:"country"`
	Timezone    string    `gorm:"type:varchar(50)" json:"timezone"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the Exchange model
func (Exchange) TableName() string {
	return ExchangesTableName
}

// Instrument is a tradable product such as NQ or ES
type Instrument struct {
	ID             uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol         string          `gorm:"type:varchar(10);uniqueIndex;not null" json:"symbol"`
	ExchangeCode   string          `gorm:"type:varchar(10);index;not null" json:"exchange_code"`
	FullName       string          `gorm:"type:varchar(100)" json:"full_name"`
	TickSize       decimal.Decimal `gorm:"type:decimal(12,6);not null" json:"tick_size"`
	PointValue     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"point_value"`
	Currency       string          `gorm:"type:varchar(3)" json:"currency"`
	ContractMonths string          `gorm:"type:varchar(12)" json:"contract_months"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the Instrument model
func (Instrument) TableName() string {
	return InstrumentsTableName
}

// Contract is one expiry of an instrument
type Contract struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Code            string     `gorm:"column:contract_code;type:varchar(10);uniqueIndex;not null" json:"contract_code"`
	Symbol          string     `gorm:"type:varchar(10);index;not null" json:"symbol"`
	MonthCode       string     `gorm:"type:char(1);not null" json:"month_code"`
	Year            int        `gorm:"not null" json:"year"`
	ExpirationDate  time.Time  `gorm:"type:date;index" json:"expiration_date"`
	FirstNoticeDate *time.Time `gorm:"type:date" json:"first_notice_date,omitempty"`
	LastTradingDate *time.Time `gorm:"type:date" json:"last_trading_date,omitempty"`
	Volume          int64      `json:"volume"`
	OpenInterest    int64      `json:"open_interest"`
	IsActive        bool       `gorm:"index" json:"is_active"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the Contract model
func (Contract) TableName() string {
	return ContractsTableName
}

// Expired reports whether the contract has passed its expiration date
func (c Contract) Expired(asOf time.Time) bool {
	if c.ExpirationDate.IsZero() {
		return false
	}
	return !asOf.Before(c.ExpirationDate.AddDate(0, 0, 1))
}
