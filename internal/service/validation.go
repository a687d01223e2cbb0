package service

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/shopspring/decimal"
)

// RejectCode classifies why a write was refused
type RejectCode string

const (
	RejectInvalidOHLC         RejectCode = "InvalidOHLC"
	RejectNonPositivePrice    RejectCode = "NonPositivePrice"
	RejectNonFiniteValue      RejectCode = "NonFiniteValue"
	RejectMissingField        RejectCode = "MissingField"
	RejectOutOfRange          RejectCode = "OutOfRange"
	RejectInvalidTickType     RejectCode = "InvalidTickType"
	RejectDuplicateSequence   RejectCode = "DuplicateSequence"
	RejectInvalidPrediction   RejectCode = "InvalidPrediction"
	RejectInvalidTrade        RejectCode = "InvalidTrade"
	RejectInvalidContractCode RejectCode = "InvalidContractCode"
)

// priceScale is the number of decimal digits stored for prices
const priceScale = 4

// Rejection is a synchronous refusal of a write. Values holds the offending
// inputs; prices appear quantized to the stored precision.
type Rejection struct {
	Code    RejectCode        `json:"code"`
	Message string            `json:"message"`
	Values  map[string]string `json:"values,omitempty"`
}

func (r *Rejection) Error() string {
	if len(r.Values) == 0 {
		return fmt.Sprintf("%s: %s", r.Code, r.Message)
	}
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r.Values[k])
	}
	return fmt.Sprintf("%s: %s (%s)", r.Code, r.Message, strings.Join(parts, ", "))
}

func reject(code RejectCode, message string, values map[string]string) *Rejection {
	return &Rejection{Code: code, Message: message, Values: values}
}

// Outcome is the typed result of an ingestion write
type Outcome struct {
	Accepted  bool         `json:"accepted"`
	Rejection *Rejection   `json:"rejection,omitempty"`
	Bar       *models.Bar  `json:"-"`
	Tick      *models.Tick `json:"-"`
}

// BarInput is a normalized bar as delivered by the feed
type BarInput struct {
	Timestamp        time.Time `json:"timestamp"`
	Symbol           string    `json:"symbol"`
	Contract         string    `json:"contract"`
	Exchange         string    `json:"exchange"`
	ExchangeCode     string    `json:"exchange_code"`
	Open             float64   `json:"open"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	Close            float64   `json:"close"`
	Volume           int64     `json:"volume"`
	TickCount        int64     `json:"tick_count"`
	Vwap             *float64  `json:"vwap,omitempty"`
	Bid              *float64  `json:"bid,omitempty"`
	Ask              *float64  `json:"ask,omitempty"`
	Spread           *float64  `json:"spread,omitempty"`
	DataQualityScore *float64  `json:"data_quality_score,omitempty"`
}

// TickInput is a raw market event as delivered by the feed
type TickInput struct {
	Timestamp         time.Time  `json:"timestamp"`
	Symbol            string     `json:"symbol"`
	Contract          string     `json:"contract"`
	Exchange          string     `json:"exchange"`
	ExchangeCode      string     `json:"exchange_code"`
	SequenceNumber    int64      `json:"sequence_number"`
	Price             float64    `json:"price"`
	Size              int64      `json:"size"`
	TickType          string     `json:"tick_type"`
	ExchangeTimestamp *time.Time `json:"exchange_timestamp,omitempty"`
}

// PredictionInput is a model output as written by the model-serving side
type PredictionInput struct {
	Timestamp                time.Time `json:"timestamp"`
	Symbol                   string    `json:"symbol"`
	Contract                 string    `json:"contract"`
	Exchange                 string    `json:"exchange"`
	ModelVersion             string    `json:"model_version"`
	ModelType                string    `json:"model_type"`
	DirectionPrediction      int       `json:"direction_prediction"`
	ConfidenceScore          float64   `json:"confidence_score"`
	PipMovementPrediction    *float64  `json:"pip_movement_prediction,omitempty"`
	LongProbability          *float64  `json:"long_probability,omitempty"`
	ShortProbability         *float64  `json:"short_probability,omitempty"`
	PredictionHorizonMinutes int       `json:"prediction_horizon_minutes"`
	ExchangeAdjustmentFactor *float64  `json:"exchange_adjustment_factor,omitempty"`
	FeaturesUsed             []string  `json:"features_used,omitempty"`
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quantize(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(priceScale)
}

func quantizePtr(f *float64, places int32) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*f).Round(places))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// nonFinite collects the named values that are NaN or infinite
func nonFinite(values map[string]*float64) map[string]string {
	var bad map[string]string
	for name, v := range values {
		if v != nil && !isFinite(*v) {
			if bad == nil {
				bad = make(map[string]string)
			}
			bad[name] = formatFloat(*v)
		}
	}
	return bad
}

func missingFields(fields map[string]string, ts time.Time) map[string]string {
	var missing map[string]string
	add := func(name string) {
		if missing == nil {
			missing = make(map[string]string)
		}
		missing[name] = ""
	}
	if ts.IsZero() {
		add("timestamp")
	}
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			add(name)
		}
	}
	return missing
}

// ValidateBar checks a bar and derives its stored form. Prices are quantized
// to four decimals before the OHLC relationship is checked, so the stored row
// always satisfies it.
func ValidateBar(in BarInput) (*models.Bar, *Rejection) {
	if missing := missingFields(map[string]string{
		"symbol": in.Symbol, "contract": in.Contract, "exchange": in.Exchange,
	}, in.Timestamp); missing != nil {
		return nil, reject(RejectMissingField, "required bar fields are missing", missing)
	}

	if bad := nonFinite(map[string]*float64{
		"open": &in.Open, "high": &in.High, "low": &in.Low, "close": &in.Close,
		"vwap": in.Vwap, "bid": in.Bid, "ask": in.Ask, "spread": in.Spread,
		"data_quality_score": in.DataQualityScore,
	}); bad != nil {
		return nil, reject(RejectNonFiniteValue, "bar contains non-finite numbers", bad)
	}

	if in.Volume < 0 || in.TickCount < 0 {
		return nil, reject(RejectOutOfRange, "volume and tick count must not be negative", map[string]string{
			"volume":     strconv.FormatInt(in.Volume, 10),
			"tick_count": strconv.FormatInt(in.TickCount, 10),
		})
	}
	if q := in.DataQualityScore; q != nil && (*q < 0 || *q > 1) {
		return nil, reject(RejectOutOfRange, "data quality score must be within [0, 1]", map[string]string{
			"data_quality_score": formatFloat(*q),
		})
	}

	o, h, l, c := quantize(in.Open), quantize(in.High), quantize(in.Low), quantize(in.Close)
	ohlc := map[string]string{
		"open":  o.String(),
		"high":  h.String(),
		"low":   l.String(),
		"close": c.String(),
	}

	// ordering is judged on the submitted prices, positivity on the stored ones
	if !o.IsPositive() || !h.IsPositive() || !l.IsPositive() || !c.IsPositive() {
		return nil, reject(RejectNonPositivePrice, "all prices must be greater than zero", ohlc)
	}
	if in.High < in.Low || in.High < in.Open || in.High < in.Close || in.Low > in.Open || in.Low > in.Close {
		return nil, reject(RejectInvalidOHLC, "prices violate low <= open, close <= high", ohlc)
	}

	bar := &models.Bar{
		Timestamp:        in.Timestamp.UTC(),
		Symbol:           strings.TrimSpace(in.Symbol),
		Contract:         strings.TrimSpace(in.Contract),
		Exchange:         strings.TrimSpace(in.Exchange),
		ExchangeCode:     strings.TrimSpace(in.ExchangeCode),
		Open:             o,
		High:             h,
		Low:              l,
		Close:            c,
		Volume:           in.Volume,
		TickCount:        in.TickCount,
		Vwap:             quantizePtr(in.Vwap, priceScale),
		Bid:              quantizePtr(in.Bid, priceScale),
		Ask:              quantizePtr(in.Ask, priceScale),
		Spread:           quantizePtr(in.Spread, priceScale),
		DataQualityScore: decimal.NewFromInt(1),
		IsRegularHours:   IsRegularHours(in.Timestamp),
	}
	if in.DataQualityScore != nil {
		bar.DataQualityScore = decimal.NewFromFloat(*in.DataQualityScore).Round(2)
	}
	// the feed's spread is never trusted when both sides are known
	if bar.Bid.Valid && bar.Ask.Valid {
		bar.Spread = decimal.NewNullDecimal(bar.Ask.Decimal.Sub(bar.Bid.Decimal))
	}
	return bar, nil
}

// ValidateTick checks a raw tick and derives its stored form
func ValidateTick(in TickInput) (*models.Tick, *Rejection) {
	if missing := missingFields(map[string]string{
		"symbol": in.Symbol, "contract": in.Contract, "exchange": in.Exchange, "tick_type": in.TickType,
	}, in.Timestamp); missing != nil {
		return nil, reject(RejectMissingField, "required tick fields are missing", missing)
	}
	if !isFinite(in.Price) {
		return nil, reject(RejectNonFiniteValue, "tick price is not finite", map[string]string{"price": formatFloat(in.Price)})
	}

	tickType := strings.ToLower(strings.TrimSpace(in.TickType))
	switch tickType {
	case models.TickTypeTrade, models.TickTypeBid, models.TickTypeAsk:
	default:
		return nil, reject(RejectInvalidTickType, "tick type must be trade, bid or ask", map[string]string{"tick_type": in.TickType})
	}

	price := quantize(in.Price)
	if !price.IsPositive() {
		return nil, reject(RejectNonPositivePrice, "tick price must be greater than zero", map[string]string{"price": price.String()})
	}
	if in.Size < 0 || in.SequenceNumber < 0 {
		return nil, reject(RejectOutOfRange, "size and sequence number must not be negative", map[string]string{
			"size":            strconv.FormatInt(in.Size, 10),
			"sequence_number": strconv.FormatInt(in.SequenceNumber, 10),
		})
	}

	tick := &models.Tick{
		Timestamp:      in.Timestamp.UTC(),
		Symbol:         strings.TrimSpace(in.Symbol),
		Contract:       strings.TrimSpace(in.Contract),
		Exchange:       strings.TrimSpace(in.Exchange),
		SequenceNumber: in.SequenceNumber,
		ExchangeCode:   strings.TrimSpace(in.ExchangeCode),
		Price:          price,
		Size:           in.Size,
		TickType:       tickType,
	}
	if in.ExchangeTimestamp != nil {
		ts := in.ExchangeTimestamp.UTC()
		tick.ExchangeTimestamp = &ts
	}
	return tick, nil
}

// ValidatePrediction checks a model output and derives its stored form
func ValidatePrediction(in PredictionInput) (*models.Prediction, *Rejection) {
	if missing := missingFields(map[string]string{
		"symbol": in.Symbol, "contract": in.Contract, "exchange": in.Exchange,
		"model_version": in.ModelVersion, "model_type": in.ModelType,
	}, in.Timestamp); missing != nil {
		return nil, reject(RejectMissingField, "required prediction fields are missing", missing)
	}

	if bad := nonFinite(map[string]*float64{
		"confidence_score": &in.ConfidenceScore, "pip_movement_prediction": in.PipMovementPrediction,
		"long_probability": in.LongProbability, "short_probability": in.ShortProbability,
		"exchange_adjustment_factor": in.ExchangeAdjustmentFactor,
	}); bad != nil {
		return nil, reject(RejectNonFiniteValue, "prediction contains non-finite numbers", bad)
	}

	bad := make(map[string]string)
	if in.DirectionPrediction < -1 || in.DirectionPrediction > 1 {
		bad["direction_prediction"] = strconv.Itoa(in.DirectionPrediction)
	}
	if in.ConfidenceScore < -100 || in.ConfidenceScore > 100 {
		bad["confidence_score"] = formatFloat(in.ConfidenceScore)
	}
	for name, p := range map[string]*float64{"long_probability": in.LongProbability, "short_probability": in.ShortProbability} {
		if p != nil && (*p < 0 || *p > 1) {
			bad[name] = formatFloat(*p)
		}
	}
	if in.PredictionHorizonMinutes < 0 {
		bad["prediction_horizon_minutes"] = strconv.Itoa(in.PredictionHorizonMinutes)
	}
	if len(bad) > 0 {
		return nil, reject(RejectInvalidPrediction, "prediction values are out of range", bad)
	}

	return &models.Prediction{
		Timestamp:                in.Timestamp.UTC(),
		Symbol:                   strings.TrimSpace(in.Symbol),
		Contract:                 strings.TrimSpace(in.Contract),
		Exchange:                 strings.TrimSpace(in.Exchange),
		ModelVersion:             strings.TrimSpace(in.ModelVersion),
		ModelType:                strings.TrimSpace(in.ModelType),
		DirectionPrediction:      in.DirectionPrediction,
		ConfidenceScore:          decimal.NewFromFloat(in.ConfidenceScore).Round(2),
		PipMovementPrediction:    quantizePtr(in.PipMovementPrediction, 4),
		LongProbability:          quantizePtr(in.LongProbability, 4),
		ShortProbability:         quantizePtr(in.ShortProbability, 4),
		PredictionHorizonMinutes: in.PredictionHorizonMinutes,
		ExchangeAdjustmentFactor: quantizePtr(in.ExchangeAdjustmentFactor, 4),
		FeaturesUsed:             in.FeaturesUsed,
	}, nil
}
