package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
)

type memBarKey struct {
	ts       int64
	symbol   string
	contract string
	exchange string
}

type memTickKey struct {
	memBarKey
	seq int64
}

type memPredictionKey struct {
	memBarKey
	modelVersion string
}

type memFeatureKey struct {
	memBarKey
	timeframe string
}

func barKeyOf(ts time.Time, symbol, contract, exchange string) memBarKey {
	return memBarKey{ts: ts.UnixNano(), symbol: symbol, contract: contract, exchange: exchange}
}

// MemStore is an in-process implementation of every store. It serves the
// memory storage backend and the service tests.
type MemStore struct {
	mu sync.RWMutex

	exchanges   map[string]models.Exchange
	instruments map[string]models.Instrument
	contracts   map[string]models.Contract
	bars        map[models.Timeframe]map[memBarKey]models.Bar
	ticks       map[memTickKey]models.Tick
	predictions map[memPredictionKey]models.Prediction
	trades      map[int64]models.Trade
	features    map[memFeatureKey]models.Feature
	jobRuns     []models.JobRun
	compressed  map[string]time.Time

	nextID      uint
	nextTradeID int64
}

// NewMemStore creates an empty MemStore
func NewMemStore() *MemStore {
	bars := make(map[models.Timeframe]map[memBarKey]models.Bar, len(models.Timeframes))
	for _, tf := range models.Timeframes {
		bars[tf] = make(map[memBarKey]models.Bar)
	}
	return &MemStore{
		exchanges:   make(map[string]models.Exchange),
		instruments: make(map[string]models.Instrument),
		contracts:   make(map[string]models.Contract),
		bars:        bars,
		ticks:       make(map[memTickKey]models.Tick),
		predictions: make(map[memPredictionKey]models.Prediction),
		trades:      make(map[int64]models.Trade),
		features:    make(map[memFeatureKey]models.Feature),
		compressed:  make(map[string]time.Time),
	}
}

// --------------------------------------------
// Registry
// --------------------------------------------

func (m *MemStore) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Exchange, 0, len(m.exchanges))
	for _, e := range m.exchanges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemStore) UpsertExchange(ctx context.Context, exchange *models.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.exchanges[exchange.Code]; ok {
		exchange.ID = existing.ID
		exchange.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		exchange.ID = m.nextID
		exchange.CreatedAt = time.Now().UTC()
	}
	m.exchanges[exchange.Code] = *exchange
	return nil
}

func (m *MemStore) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Instrument, 0, len(m.instruments))
	for _, i := range m.instruments {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemStore) UpsertInstrument(ctx context.Context, instrument *models.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.instruments[instrument.Symbol]; ok {
		instrument.ID = existing.ID
		instrument.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		instrument.ID = m.nextID
		instrument.CreatedAt = time.Now().UTC()
	}
	m.instruments[instrument.Symbol] = *instrument
	return nil
}

func (m *MemStore) UpsertContract(ctx context.Context, contract *models.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.contracts[contract.Code]; ok {
		contract.ID = existing.ID
		contract.CreatedAt = existing.CreatedAt
		contract.Volume = existing.Volume
		contract.OpenInterest = existing.OpenInterest
	} else {
		m.nextID++
		contract.ID = m.nextID
		contract.CreatedAt = now
	}
	contract.UpdatedAt = now
	m.contracts[contract.Code] = *contract
	return nil
}

func (m *MemStore) GetContract(ctx context.Context, code string) (*models.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemStore) ListContracts(ctx context.Context, symbol string, activeOnly bool) ([]models.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Contract
	for _, c := range m.contracts {
		if symbol != "" && c.Symbol != symbol {
			continue
		}
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ExpirationDate.Before(out[j].ExpirationDate)
	})
	return out, nil
}

func (m *MemStore) DeactivateContract(ctx context.Context, code string) error {
	return m.updateContract(code, func(c *models.Contract) { c.IsActive = false })
}

func (m *MemStore) UpdateContractStats(ctx context.Context, code string, openInterest int64) error {
	return m.updateContract(code, func(c *models.Contract) { c.OpenInterest = openInterest })
}

func (m *MemStore) IncrementContractVolume(ctx context.Context, code string, delta int64) error {
	return m.updateContract(code, func(c *models.Contract) { c.Volume += delta })
}

func (m *MemStore) updateContract(code string, fn func(*models.Contract)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[code]
	if !ok {
		return ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	m.contracts[code] = c
	return nil
}

func (m *MemStore) ExpireContracts(ctx context.Context, asOf time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for code, c := range m.contracts {
		if c.IsActive && c.Expired(asOf) {
			c.IsActive = false
			c.UpdatedAt = time.Now().UTC()
			m.contracts[code] = c
			n++
		}
	}
	return n, nil
}

// --------------------------------------------
// Bars and ticks
// --------------------------------------------

func (m *MemStore) UpsertBar(ctx context.Context, tf models.Timeframe, bar *models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.bars[tf]
	if !ok {
		return fmt.Errorf("unknown timeframe %q", tf)
	}
	key := barKeyOf(bar.Timestamp, bar.Symbol, bar.Contract, bar.Exchange)
	if existing, ok := table[key]; ok {
		bar.CreatedAt = existing.CreatedAt
	} else if bar.CreatedAt.IsZero() {
		bar.CreatedAt = time.Now().UTC()
	}
	table[key] = *bar
	return nil
}

func (m *MemStore) ListBars(ctx context.Context, tf models.Timeframe, f models.BarFilter) ([]models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.bars[tf]
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}

	var out []models.Bar
	for _, b := range table {
		if matchBar(b, f) {
			out = append(out, b)
		}
	}
	sortBars(out)

	if f.Limit > 0 && len(out) > f.Limit {
		if f.Latest {
			out = out[len(out)-f.Limit:]
		} else {
			out = out[:f.Limit]
		}
	}
	return out, nil
}

func (m *MemStore) ReplaceBars(ctx context.Context, tf models.Timeframe, from, to time.Time, bars []models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.bars[tf]
	if !ok {
		return fmt.Errorf("unknown timeframe %q", tf)
	}
	for k, b := range table {
		if !b.Timestamp.Before(from) && b.Timestamp.Before(to) {
			delete(table, k)
		}
	}
	now := time.Now().UTC()
	for _, b := range bars {
		b.CreatedAt = now
		table[barKeyOf(b.Timestamp, b.Symbol, b.Contract, b.Exchange)] = b
	}
	return nil
}

func (m *MemStore) InsertTick(ctx context.Context, tick *models.Tick) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memTickKey{barKeyOf(tick.Timestamp, tick.Symbol, tick.Contract, tick.Exchange), tick.SequenceNumber}
	if _, ok := m.ticks[key]; ok {
		return false, nil
	}
	if tick.CreatedAt.IsZero() {
		tick.CreatedAt = time.Now().UTC()
	}
	m.ticks[key] = *tick
	return true, nil
}

func (m *MemStore) CountTicks(ctx context.Context, symbol string, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, t := range m.ticks {
		if t.Symbol == symbol && !t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			n++
		}
	}
	return n, nil
}

// GetTick returns a stored tick by key
func (m *MemStore) GetTick(ts time.Time, symbol, contract, exchange string, seq int64) (models.Tick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.ticks[memTickKey{barKeyOf(ts, symbol, contract, exchange), seq}]
	return t, ok
}

// --------------------------------------------
// Predictions and trades
// --------------------------------------------

func (m *MemStore) InsertPrediction(ctx context.Context, p *models.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memPredictionKey{barKeyOf(p.Timestamp, p.Symbol, p.Contract, p.Exchange), p.ModelVersion}
	if _, ok := m.predictions[key]; ok {
		return ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.predictions[key] = *p
	return nil
}

func (m *MemStore) ListPredictions(ctx context.Context, f models.PredictionFilter) ([]models.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Prediction
	for _, p := range m.predictions {
		if f.Symbol != "" && p.Symbol != f.Symbol {
			continue
		}
		if f.ModelVersion != "" && p.ModelVersion != f.ModelVersion {
			continue
		}
		if !inRange(p.Timestamp, f.From, f.To) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) CreateTrade(ctx context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTradeID++
	now := time.Now().UTC()
	t.ID = m.nextTradeID
	t.CreatedAt = now
	t.UpdatedAt = now
	m.trades[t.ID] = *t
	return nil
}

func (m *MemStore) GetTrade(ctx context.Context, id int64) (*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemStore) CloseTrade(ctx context.Context, id int64, exit models.TradeExit) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !t.IsOpen() {
		return nil, ErrTradeClosed
	}
	applyExit(&t, exit)
	m.trades[id] = t
	return &t, nil
}

func (m *MemStore) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Trade
	for _, t := range m.trades {
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.OpenOnly && !t.IsOpen() {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// --------------------------------------------
// Features and job runs
// --------------------------------------------

func (m *MemStore) UpsertFeature(ctx context.Context, f *models.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memFeatureKey{barKeyOf(f.Timestamp, f.Symbol, f.Contract, f.Exchange), f.Timeframe}
	m.features[key] = *f
	return nil
}

func (m *MemStore) LatestFeature(ctx context.Context, key models.BarKey, tf models.Timeframe) (*models.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Feature
	for _, f := range m.features {
		if f.Symbol != key.Symbol || f.Contract != key.Contract || f.Exchange != key.Exchange || f.Timeframe != string(tf) {
			continue
		}
		if latest == nil || f.Timestamp.After(latest.Timestamp) {
			f := f
			latest = &f
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *MemStore) CreateJobRun(ctx context.Context, run *models.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobRuns = append(m.jobRuns, *run)
	return nil
}

func (m *MemStore) FinishJobRun(ctx context.Context, run *models.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.jobRuns {
		if m.jobRuns[i].ID == run.ID {
			m.jobRuns[i] = *run
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) ListJobRuns(ctx context.Context, jobName string, limit int) ([]models.JobRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.JobRun
	for i := len(m.jobRuns) - 1; i >= 0; i-- {
		run := m.jobRuns[i]
		if jobName != "" && run.JobName != jobName {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --------------------------------------------
// Maintenance
// --------------------------------------------

func (m *MemStore) Purge(ctx context.Context, table string, before time.Time) (int64, error) {
	if !managedTables[table] {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	switch table {
	case models.TicksTableName:
		for k, t := range m.ticks {
			if t.Timestamp.Before(before) {
				delete(m.ticks, k)
				n++
			}
		}
	case models.PredictionsTableName:
		for k, p := range m.predictions {
			if p.Timestamp.Before(before) {
				delete(m.predictions, k)
				n++
			}
		}
	case models.FeaturesTableName:
		for k, f := range m.features {
			if f.Timestamp.Before(before) {
				delete(m.features, k)
				n++
			}
		}
	default:
		bars := m.bars[timeframeOfTable(table)]
		for k, b := range bars {
			if b.Timestamp.Before(before) {
				delete(bars, k)
				n++
			}
		}
	}
	return n, nil
}

// Compress has nothing to compress in memory; it advances a per-table
// watermark and reports how many rows crossed it.
func (m *MemStore) Compress(ctx context.Context, table string, olderThan time.Time) (int64, error) {
	if !managedTables[table] {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	watermark := m.compressed[table]
	if !olderThan.After(watermark) {
		return 0, nil
	}

	var n int64
	for _, ts := range m.tableTimestamps(table, "") {
		if !ts.Before(watermark) && ts.Before(olderThan) {
			n++
		}
	}
	m.compressed[table] = olderThan
	return n, nil
}

// --------------------------------------------
// helpers
// --------------------------------------------

func timeframeOfTable(table string) models.Timeframe {
	for _, tf := range models.Timeframes {
		if tf.TableName() == table {
			return tf
		}
	}
	return ""
}

// tableTimestamps lists the timestamps stored in a table, optionally for one symbol.
// Callers hold the lock.
func (m *MemStore) tableTimestamps(table, symbol string) []time.Time {
	var out []time.Time
	add := func(ts time.Time, s string) {
		if symbol == "" || strings.EqualFold(s, symbol) {
			out = append(out, ts)
		}
	}

	switch table {
	case models.TicksTableName:
		for _, t := range m.ticks {
			add(t.Timestamp, t.Symbol)
		}
	case models.PredictionsTableName:
		for _, p := range m.predictions {
			add(p.Timestamp, p.Symbol)
		}
	case models.FeaturesTableName:
		for _, f := range m.features {
			add(f.Timestamp, f.Symbol)
		}
	case models.TradesTableName:
		for _, t := range m.trades {
			add(t.Timestamp, t.Symbol)
		}
	default:
		if tf := timeframeOfTable(table); tf != "" {
			for _, b := range m.bars[tf] {
				add(b.Timestamp, b.Symbol)
			}
		}
	}
	return out
}

func matchBar(b models.Bar, f models.BarFilter) bool {
	if f.Symbol != "" && b.Symbol != f.Symbol {
		return false
	}
	if f.Contract != "" && b.Contract != f.Contract {
		return false
	}
	if f.Exchange != "" && b.Exchange != f.Exchange {
		return false
	}
	return inRange(b.Timestamp, f.From, f.To)
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && !ts.Before(to) {
		return false
	}
	return true
}

func sortBars(bars []models.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		a, b := bars[i], bars[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Contract != b.Contract {
			return a.Contract < b.Contract
		}
		return a.Exchange < b.Exchange
	})
}
