package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the width of a bar
type Timeframe string

const (
	Timeframe1s  Timeframe = "1s"
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Bar table names per timeframe
var (
	SecondBarsTableName  = "market_data_seconds"
	MinuteBarsTableName  = "market_data_minutes"
	FiveMinTableName     = "market_data_5min"
	FifteenMinTableName  = "market_data_15min"
	HourBarsTableName    = "market_data_1hour"
	TicksTableName       = "raw_tick_data"
	PredictionsTableName = "predictions"
	TradesTableName      = "trades"
	FeaturesTableName    = "features"
)

// Timeframes lists every timeframe, finest first
var Timeframes = []Timeframe{Timeframe1s, Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h}

// AggregatedTimeframes are derived from second bars
var AggregatedTimeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h}

// ParseTimeframe validates a timeframe string
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range Timeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the bucket width
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1s:
		return time.Second
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	}
	return 0
}

// TableName returns the bar table backing the timeframe
func (tf Timeframe) TableName() string {
	switch tf {
	case Timeframe1s:
		return SecondBarsTableName
	case Timeframe1m:
		return MinuteBarsTableName
	case Timeframe5m:
		return FiveMinTableName
	case Timeframe15m:
		return FifteenMinTableName
	case Timeframe1h:
		return HourBarsTableName
	}
	return ""
}

// BucketStart aligns t to the start of its bucket, in UTC
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// Bar is one OHLCV row keyed by (timestamp, symbol, contract, exchange)
type Bar struct {
	Timestamp        time.Time           `gorm:"primaryKey;type:timestamptz;not null" json:"timestamp"`
	Symbol           string              `gorm:"primaryKey;type:varchar(10);not null" json:"symbol"`
	Contract         string              `gorm:"primaryKey;type:varchar(10);not null" json:"contract"`
	Exchange         string              `gorm:"primaryKey;type:varchar(10);not null" json:"exchange"`
	ExchangeCode     string              `gorm:"type:varchar(10)" json:"exchange_code"`
	Open             decimal.Decimal     `gorm:"type:decimal(12,4);not null" json:"open"`
	High             decimal.Decimal     `gorm:"type:decimal(12,4);not null" json:"high"`
	Low              decimal.Decimal     `gorm:"type:decimal(12,4);not null" json:"low"`
	Close            decimal.Decimal     `gorm:"type:decimal(12,4);not null" json:"close"`
	Volume           int64               `gorm:"not null" json:"volume"`
	TickCount        int64               `json:"tick_count"`
	Vwap             decimal.NullDecimal `gorm:"type:decimal(12,4)" json:"vwap"`
	Bid              decimal.NullDecimal `gorm:"type:decimal(12,4)" json:"bid"`
	Ask              decimal.NullDecimal `gorm:"type:decimal(12,4)" json:"ask"`
	Spread           decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"spread"`
	AvgSpread        decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"avg_spread"`
	MaxSpread        decimal.NullDecimal `gorm:"type:decimal(8,4)" json:"max_spread"`
	DataQualityScore decimal.Decimal     `gorm:"type:decimal(3,2)" json:"data_quality_score"`
	IsRegularHours   bool                `json:"is_regular_hours"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"-"`
}

// TableName defaults to the second bar table, other timeframes go through db.Table
func (Bar) TableName() string {
	return SecondBarsTableName
}

// BarKey identifies a bar series
type BarKey struct {
	Symbol   string
	Contract string
	Exchange string
}

// Key returns the series key of the bar
func (b Bar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, Contract: b.Contract, Exchange: b.Exchange}
}

// BarFilter narrows bar reads. From is inclusive, To is exclusive.
type BarFilter struct {
	Symbol   string
	Contract string
	Exchange string
	From     time.Time
	To       time.Time
	Limit    int
	// Latest returns the last Limit bars, still ordered oldest first
	Latest bool
}
