package repository

import (
	"context"
	"sort"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func (m *MemStore) LatestPrices(ctx context.Context, symbol string, since time.Time) ([]models.LatestPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type series struct{ contract, exchange string }
	latest := make(map[series]models.Bar)
	for _, b := range m.bars[models.Timeframe1s] {
		if b.Symbol != symbol || b.Timestamp.Before(since) {
			continue
		}
		k := series{b.Contract, b.Exchange}
		if cur, ok := latest[k]; !ok || b.Timestamp.After(cur.Timestamp) {
			latest[k] = b
		}
	}

	out := make([]models.LatestPrice, 0, len(latest))
	for _, b := range latest {
		out = append(out, models.LatestPrice{
			Symbol:       b.Symbol,
			Contract:     b.Contract,
			Exchange:     b.Exchange,
			ExchangeCode: b.ExchangeCode,
			Timestamp:    b.Timestamp,
			Close:        b.Close,
			Volume:       b.Volume,
			Bid:          b.Bid,
			Ask:          b.Ask,
			Spread:       b.Spread,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Contract != out[j].Contract {
			return out[i].Contract < out[j].Contract
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out, nil
}

func (m *MemStore) DailyVolume(ctx context.Context, from, to time.Time) ([]models.DailyVolume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type group struct {
		day              int64
		exchange, symbol string
	}
	totals := make(map[group]*models.DailyVolume)
	for _, b := range m.bars[models.Timeframe1s] {
		if !inRange(b.Timestamp, from, to) {
			continue
		}
		day := b.Timestamp.UTC().Truncate(24 * time.Hour)
		k := group{day.Unix(), b.Exchange, b.Symbol}
		dv, ok := totals[k]
		if !ok {
			dv = &models.DailyVolume{Date: day, Exchange: b.Exchange, Symbol: b.Symbol}
			totals[k] = dv
		}
		dv.TotalVolume += b.Volume
		dv.BarCount++
	}

	out := make([]models.DailyVolume, 0, len(totals))
	for _, dv := range totals {
		out = append(out, *dv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (m *MemStore) ActiveContracts(ctx context.Context) ([]models.ActiveContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ActiveContract
	for _, c := range m.contracts {
		if !c.IsActive {
			continue
		}
		inst, ok := m.instruments[c.Symbol]
		if !ok {
			continue
		}
		exch, ok := m.exchanges[inst.ExchangeCode]
		if !ok {
			continue
		}
		out = append(out, models.ActiveContract{
			ContractCode:   c.Code,
			Symbol:         c.Symbol,
			FullName:       inst.FullName,
			ExchangeCode:   exch.Code,
			ExchangeName:   exch.Name,
			MonthCode:      c.MonthCode,
			Year:           c.Year,
			ExpirationDate: c.ExpirationDate,
			TickSize:       inst.TickSize,
			PointValue:     inst.PointValue,
			Volume:         c.Volume,
			OpenInterest:   c.OpenInterest,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ExpirationDate.Before(out[j].ExpirationDate)
	})
	return out, nil
}

func (m *MemStore) ExchangeRankings(ctx context.Context, symbol string, from, to time.Time) ([]models.ExchangeRanking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		ranking   models.ExchangeRanking
		spreadSum decimal.Decimal
		spreadN   int64
	}
	groups := make(map[string]*acc)
	var total int64
	for _, b := range m.bars[models.Timeframe1s] {
		if b.Symbol != symbol || !inRange(b.Timestamp, from, to) {
			continue
		}
		a, ok := groups[b.Exchange]
		if !ok {
			a = &acc{ranking: models.ExchangeRanking{Exchange: b.Exchange}}
			groups[b.Exchange] = a
		}
		if b.ExchangeCode > a.ranking.ExchangeCode {
			a.ranking.ExchangeCode = b.ExchangeCode
		}
		a.ranking.TotalVolume += b.Volume
		a.ranking.BarCount++
		if b.Spread.Valid {
			a.spreadSum = a.spreadSum.Add(b.Spread.Decimal)
			a.spreadN++
		}
		total += b.Volume
	}

	out := make([]models.ExchangeRanking, 0, len(groups))
	for _, a := range groups {
		r := a.ranking
		if a.spreadN > 0 {
			r.AvgSpread = decimal.NewNullDecimal(a.spreadSum.Div(decimal.NewFromInt(a.spreadN)).Round(4))
		}
		if total > 0 {
			r.MarketShare = decimal.NewFromInt(r.TotalVolume).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalVolume != out[j].TotalVolume {
			return out[i].TotalVolume > out[j].TotalVolume
		}
		return out[i].Exchange < out[j].Exchange
	})
	for i := range out {
		if i > 0 && out[i].TotalVolume == out[i-1].TotalVolume {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out, nil
}

func (m *MemStore) ArbitrageOpportunities(ctx context.Context, symbol string, since time.Time, thresholdPct float64, limit int) ([]models.ArbitrageOpportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type slot struct {
		ts       int64
		contract string
	}
	slots := make(map[slot][]models.Bar)
	for _, b := range m.bars[models.Timeframe1s] {
		if b.Symbol != symbol || b.Timestamp.Before(since) {
			continue
		}
		k := slot{b.Timestamp.UnixNano(), b.Contract}
		slots[k] = append(slots[k], b)
	}

	threshold := decimal.NewFromFloat(thresholdPct)
	var out []models.ArbitrageOpportunity
	for _, bars := range slots {
		for _, a := range bars {
			for _, b := range bars {
				if a.Exchange >= b.Exchange {
					continue
				}
				low := decimal.Min(a.Close, b.Close)
				if !low.IsPositive() {
					continue
				}
				diff := a.Close.Sub(b.Close).Abs()
				pct := diff.Div(low).Mul(hundred)
				if pct.LessThan(threshold) {
					continue
				}
				out = append(out, models.ArbitrageOpportunity{
					Timestamp:    a.Timestamp,
					Symbol:       a.Symbol,
					Contract:     a.Contract,
					Exchange1:    a.Exchange,
					Exchange2:    b.Exchange,
					Price1:       a.Close,
					Price2:       b.Close,
					PriceDiff:    diff,
					PriceDiffPct: pct.Round(4),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PriceDiffPct.Equal(out[j].PriceDiffPct) {
			return out[i].PriceDiffPct.GreaterThan(out[j].PriceDiffPct)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) Statistics(ctx context.Context, symbol string) (*models.DataStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.DataStatistics{}
	for _, table := range StatisticsTables {
		ts := models.TableStatistics{Table: table}
		for _, t := range m.tableTimestamps(table, symbol) {
			ts.RecordCount++
			if ts.Earliest == nil || t.Before(*ts.Earliest) {
				t := t
				ts.Earliest = &t
			}
			if ts.Latest == nil || t.After(*ts.Latest) {
				t := t
				ts.Latest = &t
			}
		}
		stats.Tables = append(stats.Tables, ts)
	}

	type series struct{ symbol, exchange string }
	groups := make(map[series]*models.SeriesStatistics)
	for _, b := range m.bars[models.Timeframe1s] {
		if symbol != "" && b.Symbol != symbol {
			continue
		}
		k := series{b.Symbol, b.Exchange}
		s, ok := groups[k]
		if !ok {
			s = &models.SeriesStatistics{Symbol: b.Symbol, Exchange: b.Exchange, FirstBar: b.Timestamp, LastBar: b.Timestamp}
			groups[k] = s
		}
		s.RecordCount++
		if b.Timestamp.Before(s.FirstBar) {
			s.FirstBar = b.Timestamp
		}
		if b.Timestamp.After(s.LastBar) {
			s.LastBar = b.Timestamp
		}
	}
	for _, s := range groups {
		stats.Series = append(stats.Series, *s)
	}
	sort.Slice(stats.Series, func(i, j int) bool {
		a, b := stats.Series[i], stats.Series[j]
		if a.RecordCount != b.RecordCount {
			return a.RecordCount > b.RecordCount
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Exchange < b.Exchange
	})
	if len(stats.Series) > 20 {
		stats.Series = stats.Series[:20]
	}
	return stats, nil
}
