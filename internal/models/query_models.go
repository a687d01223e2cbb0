package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LatestPrice is the most recent second bar of one (contract, exchange)
type LatestPrice struct {
	Symbol       string              `json:"symbol"`
	Contract     string              `json:"contract"`
	Exchange     string              `json:"exchange"`
	ExchangeCode string              `json:"exchange_code"`
	Timestamp    time.Time           `json:"timestamp"`
	Close        decimal.Decimal     `json:"close"`
	Volume       int64               `json:"volume"`
	Bid          decimal.NullDecimal `json:"bid"`
	Ask          decimal.NullDecimal `json:"ask"`
	Spread       decimal.NullDecimal `json:"spread"`
}

// DailyVolume is the traded volume of a symbol on one exchange for a day
type DailyVolume struct {
	Date        time.Time `json:"date"`
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	TotalVolume int64     `json:"total_volume"`
	BarCount    int64     `json:"bar_count"`
}

// ActiveContract joins a contract with its instrument and exchange
type ActiveContract struct {
	ContractCode   string          `json:"contract_code"`
	Symbol         string          `json:"symbol"`
	FullName       string          `json:"full_name"`
	ExchangeCode   string          `json:"exchange_code"`
	ExchangeName   string          `json:"exchange_name"`
	MonthCode      string          `json:"month_code"`
	Year           int             `json:"year"`
	ExpirationDate time.Time       `json:"expiration_date"`
	TickSize       decimal.Decimal `json:"tick_size"`
	PointValue     decimal.Decimal `json:"point_value"`
	Volume         int64           `json:"volume"`
	OpenInterest   int64           `json:"open_interest"`
}

// ExchangeRanking is the activity share of one exchange for a symbol
type ExchangeRanking struct {
	Exchange     string              `json:"exchange"`
	ExchangeCode string              `json:"exchange_code"`
	TotalVolume  int64               `json:"total_volume"`
	BarCount     int64               `json:"bar_count"`
	AvgSpread    decimal.NullDecimal `json:"avg_spread"`
	MarketShare  decimal.Decimal     `json:"market_share_pct"`
	Rank         int                 `json:"rank"`
}

// ArbitrageOpportunity is a same-second close difference between exchanges
type ArbitrageOpportunity struct {
	Timestamp    time.Time       `json:"timestamp"`
	Symbol       string          `json:"symbol"`
	Contract     string          `json:"contract"`
	Exchange1    string          `json:"exchange_1"`
	Exchange2    string          `json:"exchange_2"`
	Price1       decimal.Decimal `json:"price_1"`
	Price2       decimal.Decimal `json:"price_2"`
	PriceDiff    decimal.Decimal `json:"price_diff"`
	PriceDiffPct decimal.Decimal `json:"price_diff_pct"`
}

// SeriesStatistics is the per-(symbol, exchange) breakdown of second bars
type SeriesStatistics struct {
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	RecordCount int64     `json:"record_count"`
	FirstBar    time.Time `json:"first_bar"`
	LastBar     time.Time `json:"last_bar"`
}

// TableStatistics is the row count and time range of one table
type TableStatistics struct {
	Table       string     `json:"table"`
	RecordCount int64      `json:"record_count"`
	Earliest    *time.Time `json:"earliest,omitempty"`
	Latest      *time.Time `json:"latest,omitempty"`
}

// DataStatistics summarises what is stored
type DataStatistics struct {
	Tables []TableStatistics  `json:"tables"`
	Series []SeriesStatistics `json:"series"`
}
