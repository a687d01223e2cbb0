package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/shopspring/decimal"
)

// seedContractCount is how many upcoming expiries are listed per instrument
const seedContractCount = 4

// RegistryService serves exchange, instrument and contract reference data.
// Exchange and instrument lookups come from a cache refreshed on every
// registry write.
type RegistryService struct {
	store       RegistryStore
	defaultCode string

	mu          sync.RWMutex
	loaded      bool
	exchanges   map[string]string
	instruments map[string]models.Instrument
}

// NewRegistryService creates a new RegistryService
func NewRegistryService(store RegistryStore, defaultExchangeCode string) *RegistryService {
	return &RegistryService{
		store:       store,
		defaultCode: defaultExchangeCode,
		exchanges:   make(map[string]string),
		instruments: make(map[string]models.Instrument),
	}
}

// Refresh reloads the exchange and instrument cache
func (s *RegistryService) Refresh(ctx context.Context) error {
	exchanges, err := s.store.ListExchanges(ctx)
	if err != nil {
		return err
	}
	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]string, len(exchanges)*2)
	for _, e := range exchanges {
		byName[strings.ToUpper(e.Code)] = e.Code
		byName[strings.ToUpper(e.Name)] = e.Code
	}
	bySymbol := make(map[string]models.Instrument, len(instruments))
	for _, i := range instruments {
		bySymbol[i.Symbol] = i
	}

	s.mu.Lock()
	s.exchanges = byName
	s.instruments = bySymbol
	s.loaded = true
	s.mu.Unlock()
	return nil
}

func (s *RegistryService) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}
	if err := s.Refresh(ctx); err != nil {
		zaplogger.Error("failed to load registry cache", zaplogger.Fields{"error": err.Error()})
	}
}

// ResolveExchangeCode maps an exchange name or code to its code. Unknown
// names fall back to the default code; the write that needs it still proceeds.
func (s *RegistryService) ResolveExchangeCode(ctx context.Context, exchange string) string {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	code, ok := s.exchanges[strings.ToUpper(strings.TrimSpace(exchange))]
	s.mu.RUnlock()
	if ok {
		return code
	}

	zaplogger.Warn("unknown exchange, using default code", zaplogger.Fields{
		"exchange":     exchange,
		"default_code": s.defaultCode,
	})
	return s.defaultCode
}

// Instrument returns the cached instrument for a symbol
func (s *RegistryService) Instrument(ctx context.Context, symbol string) (models.Instrument, bool) {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.instruments[symbol]
	return i, ok
}

func (s *RegistryService) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	return s.store.ListExchanges(ctx)
}

func (s *RegistryService) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return s.store.ListInstruments(ctx)
}

// UpsertExchange writes an exchange and refreshes the cache
func (s *RegistryService) UpsertExchange(ctx context.Context, exchange *models.Exchange) error {
	if err := s.store.UpsertExchange(ctx, exchange); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// UpsertInstrument writes an instrument and refreshes the cache
func (s *RegistryService) UpsertInstrument(ctx context.Context, instrument *models.Instrument) error {
	if err := s.store.UpsertInstrument(ctx, instrument); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// UpsertContract writes a contract keyed by its code. Symbol, month, year and
// expiration are derived from the code when omitted.
func (s *RegistryService) UpsertContract(ctx context.Context, contract *models.Contract) error {
	code, err := models.ParseContractCode(contract.Code)
	if err != nil {
		return reject(RejectInvalidContractCode, err.Error(), map[string]string{"contract_code": contract.Code})
	}

	contract.Code = code.String()
	if contract.Symbol == "" {
		contract.Symbol = code.Symbol
	}
	if contract.MonthCode == "" {
		contract.MonthCode = code.MonthCode
	}
	if contract.Year == 0 {
		contract.Year = code.Year
	}
	if contract.ExpirationDate.IsZero() {
		contract.ExpirationDate = models.ThirdFriday(code.Year, code.Month())
	}
	if contract.Symbol != code.Symbol || contract.MonthCode != code.MonthCode || contract.Year != code.Year {
		return reject(RejectInvalidContractCode, "contract fields do not match the contract code", map[string]string{
			"contract_code": contract.Code,
			"symbol":        contract.Symbol,
			"month_code":    contract.MonthCode,
			"year":          fmt.Sprint(contract.Year),
		})
	}

	return s.store.UpsertContract(ctx, contract)
}

func (s *RegistryService) GetContract(ctx context.Context, code string) (*models.Contract, error) {
	return s.store.GetContract(ctx, strings.ToUpper(code))
}

func (s *RegistryService) ListContracts(ctx context.Context, symbol string, activeOnly bool) ([]models.Contract, error) {
	return s.store.ListContracts(ctx, strings.ToUpper(symbol), activeOnly)
}

func (s *RegistryService) DeactivateContract(ctx context.Context, code string) error {
	return s.store.DeactivateContract(ctx, strings.ToUpper(code))
}

func (s *RegistryService) UpdateContractStats(ctx context.Context, code string, openInterest int64) error {
	if openInterest < 0 {
		return reject(RejectOutOfRange, "open interest must not be negative", map[string]string{
			"open_interest": fmt.Sprint(openInterest),
		})
	}
	return s.store.UpdateContractStats(ctx, strings.ToUpper(code), openInterest)
}

// ExpireContracts deactivates every active contract past its expiration date
func (s *RegistryService) ExpireContracts(ctx context.Context, asOf time.Time) (int64, error) {
	n, err := s.store.ExpireContracts(ctx, asOf)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zaplogger.Info("expired contracts", zaplogger.Fields{"count": n, "as_of": asOf.Format(time.DateOnly)})
	}
	return n, nil
}

// FrontMonth returns the nearest active contract that has not expired
func (s *RegistryService) FrontMonth(ctx context.Context, symbol string, asOf time.Time) (*models.Contract, error) {
	contracts, err := s.store.ListContracts(ctx, strings.ToUpper(symbol), true)
	if err != nil {
		return nil, err
	}

	var front *models.Contract
	for i := range contracts {
		c := &contracts[i]
		if c.Expired(asOf) {
			continue
		}
		if front == nil || c.ExpirationDate.Before(front.ExpirationDate) {
			front = c
		}
	}
	if front == nil {
		return nil, fmt.Errorf("no front month for %s: %w", symbol, repository.ErrNotFound)
	}
	return front, nil
}

// --------------------------------------------
// Seed data
// --------------------------------------------

var seedExchanges = []models.Exchange{
	{Code: "XCME", Name: "CME", DisplayName: "Chicago Mercantile Exchange", Country: "US", Timezone: "America/Chicago", IsActive: true},
	{Code: "XCBT", Name: "CBOT", DisplayName: "Chicago Board of Trade", Country: "US", Timezone: "America/Chicago", IsActive: true},
	{Code: "XNYM", Name: "NYMEX", DisplayName: "New York Mercantile Exchange", Country: "US", Timezone: "America/New_York", IsActive: true},
	{Code: "XCEC", Name: "COMEX", DisplayName: "Commodity Exchange", Country: "US", Timezone: "America/New_York", IsActive: true},
}

var seedInstruments = []models.Instrument{
	{Symbol: "NQ", ExchangeCode: "XCME", FullName: "E-mini Nasdaq-100", TickSize: decimal.RequireFromString("0.25"), PointValue: decimal.NewFromInt(20), Currency: "USD", ContractMonths: "HMUZ", IsActive: true},
	{Symbol: "ES", ExchangeCode: "XCME", FullName: "E-mini S&P 500", TickSize: decimal.RequireFromString("0.25"), PointValue: decimal.NewFromInt(50), Currency: "USD", ContractMonths: "HMUZ", IsActive: true},
	{Symbol: "YM", ExchangeCode: "XCBT", FullName: "E-mini Dow", TickSize: decimal.NewFromInt(1), PointValue: decimal.NewFromInt(5), Currency: "USD", ContractMonths: "HMUZ", IsActive: true},
	{Symbol: "RTY", ExchangeCode: "XCME", FullName: "E-mini Russell 2000", TickSize: decimal.RequireFromString("0.10"), PointValue: decimal.NewFromInt(50), Currency: "USD", ContractMonths: "HMUZ", IsActive: true},
}

// Seed writes the reference exchanges and instruments and lists the next
// expiries of every instrument. Existing contracts keep their counters.
func (s *RegistryService) Seed(ctx context.Context, asOf time.Time) error {
	var errs []error

	for _, e := range seedExchanges {
		e := e
		if err := s.store.UpsertExchange(ctx, &e); err != nil {
			errs = append(errs, err)
		}
	}

	for _, i := range seedInstruments {
		i := i
		if err := s.store.UpsertInstrument(ctx, &i); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, code := range models.NextContracts(i.Symbol, i.ContractMonths, asOf, seedContractCount) {
			contract := &models.Contract{Code: code.String(), IsActive: true}
			if err := s.UpsertContract(ctx, contract); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to seed registry: %w", err)
	}
	zaplogger.Info("registry seeded", zaplogger.Fields{
		"exchanges":   len(seedExchanges),
		"instruments": len(seedInstruments),
	})
	return s.Refresh(ctx)
}
