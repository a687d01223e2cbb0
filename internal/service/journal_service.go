package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/shopspring/decimal"
)

// TradeInput opens a trade
type TradeInput struct {
	Timestamp         time.Time `json:"timestamp"`
	Symbol            string    `json:"symbol"`
	Contract          string    `json:"contract"`
	Exchange          string    `json:"exchange"`
	Side              string    `json:"side"`
	Quantity          int       `json:"quantity"`
	EntryPrice        float64   `json:"entry_price"`
	Commission        float64   `json:"commission"`
	ConfidenceAtEntry *float64  `json:"confidence_at_entry,omitempty"`
	ModelVersion      string    `json:"model_version"`
	RouteExchange     string    `json:"route_exchange"`
	ExecutionVenue    string    `json:"execution_venue"`
	TradeType         string    `json:"trade_type"`
	Notes             string    `json:"notes"`
}

// CloseTradeInput closes a trade
type CloseTradeInput struct {
	Timestamp  time.Time `json:"timestamp"`
	ExitPrice  float64   `json:"exit_price"`
	Commission float64   `json:"commission"`
	Notes      string    `json:"notes"`
}

// JournalService records predictions and trades. Predictions are write-once;
// a trade is closed exactly once.
type JournalService struct {
	store    JournalStore
	registry *RegistryService
	now      func() time.Time
}

// NewJournalService creates a new JournalService
func NewJournalService(store JournalStore, registry *RegistryService) *JournalService {
	return &JournalService{
		store:    store,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordPrediction stores a prediction. Invalid input is returned as a
// *Rejection; an existing key yields repository.ErrDuplicate.
func (s *JournalService) RecordPrediction(ctx context.Context, in PredictionInput) (*models.Prediction, error) {
	p, rejection := ValidatePrediction(in)
	if rejection != nil {
		return nil, rejection
	}
	if err := s.store.InsertPrediction(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *JournalService) ListPredictions(ctx context.Context, f models.PredictionFilter) ([]models.Prediction, error) {
	predictions, err := s.store.ListPredictions(ctx, f)
	if err != nil {
		return nil, err
	}
	if predictions == nil {
		predictions = []models.Prediction{}
	}
	return predictions, nil
}

// OpenTrade records a trade entry
func (s *JournalService) OpenTrade(ctx context.Context, in TradeInput) (*models.Trade, error) {
	side := strings.ToUpper(strings.TrimSpace(in.Side))
	bad := make(map[string]string)
	if side != models.SideBuy && side != models.SideSell {
		bad["side"] = in.Side
	}
	if in.Quantity <= 0 {
		bad["quantity"] = strconv.Itoa(in.Quantity)
	}
	if !isFinite(in.EntryPrice) || in.EntryPrice <= 0 {
		bad["entry_price"] = formatFloat(in.EntryPrice)
	}
	if !isFinite(in.Commission) || in.Commission < 0 {
		bad["commission"] = formatFloat(in.Commission)
	}
	if in.Symbol == "" || in.Contract == "" || in.Exchange == "" {
		bad["instrument"] = in.Symbol + "/" + in.Contract + "/" + in.Exchange
	}
	if len(bad) > 0 {
		return nil, reject(RejectInvalidTrade, "trade entry is invalid", bad)
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	t := &models.Trade{
		Timestamp:         ts.UTC(),
		Symbol:            in.Symbol,
		Contract:          in.Contract,
		Exchange:          in.Exchange,
		Side:              side,
		Quantity:          in.Quantity,
		EntryPrice:        quantize(in.EntryPrice),
		Commission:        decimal.NewFromFloat(in.Commission).Round(2),
		ConfidenceAtEntry: quantizePtr(in.ConfidenceAtEntry, 2),
		ModelVersion:      in.ModelVersion,
		RouteExchange:     in.RouteExchange,
		ExecutionVenue:    in.ExecutionVenue,
		TradeType:         in.TradeType,
		Notes:             in.Notes,
	}
	if err := s.store.CreateTrade(ctx, t); err != nil {
		return nil, err
	}
	zaplogger.Info("trade opened", zaplogger.Fields{
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"side":     t.Side,
		"quantity": t.Quantity,
		"price":    t.EntryPrice.String(),
	})
	return t, nil
}

// CloseTrade fills the exit of an open trade and realizes its pnl:
// (exit - entry) * quantity * point value, sign flipped for sells, less the
// total commission.
func (s *JournalService) CloseTrade(ctx context.Context, id int64, in CloseTradeInput) (*models.Trade, error) {
	bad := make(map[string]string)
	if !isFinite(in.ExitPrice) || in.ExitPrice <= 0 {
		bad["exit_price"] = formatFloat(in.ExitPrice)
	}
	if !isFinite(in.Commission) || in.Commission < 0 {
		bad["commission"] = formatFloat(in.Commission)
	}
	if len(bad) > 0 {
		return nil, reject(RejectInvalidTrade, "trade exit is invalid", bad)
	}

	trade, err := s.store.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	if ts.Before(trade.Timestamp) {
		return nil, reject(RejectInvalidTrade, "exit must not precede entry", map[string]string{
			"entry_timestamp": trade.Timestamp.Format(time.RFC3339),
			"exit_timestamp":  ts.Format(time.RFC3339),
		})
	}

	exit := quantize(in.ExitPrice)
	pointValue := decimal.NewFromInt(1)
	if instrument, ok := s.registry.Instrument(ctx, trade.Symbol); ok && instrument.PointValue.IsPositive() {
		pointValue = instrument.PointValue
	}

	move := exit.Sub(trade.EntryPrice)
	if trade.Side == models.SideSell {
		move = move.Neg()
	}
	commission := trade.Commission.Add(decimal.NewFromFloat(in.Commission)).Round(2)
	pnl := move.Mul(decimal.NewFromInt(int64(trade.Quantity))).Mul(pointValue).Sub(commission).Round(2)
	pnlPct := move.Div(trade.EntryPrice).Mul(decimal.NewFromInt(100)).Round(4)

	closed, err := s.store.CloseTrade(ctx, id, models.TradeExit{
		Timestamp:  ts,
		Price:      exit,
		Pnl:        pnl,
		PnlPercent: pnlPct,
		Commission: commission,
		Notes:      in.Notes,
	})
	if err != nil {
		return nil, err
	}
	zaplogger.Info("trade closed", zaplogger.Fields{
		"trade_id": closed.ID,
		"symbol":   closed.Symbol,
		"pnl":      pnl.String(),
	})
	return closed, nil
}

func (s *JournalService) GetTrade(ctx context.Context, id int64) (*models.Trade, error) {
	return s.store.GetTrade(ctx, id)
}

func (s *JournalService) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	trades, err := s.store.ListTrades(ctx, f)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return trades, nil
}
