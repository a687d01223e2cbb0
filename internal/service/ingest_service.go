package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
)

// IngestService is the write gate for second bars and raw ticks. It never
// retries; redelivery is the feed's job.
type IngestService struct {
	bars     BarStore
	ticks    TickStore
	registry *RegistryService
}

// NewIngestService creates a new IngestService
func NewIngestService(bars BarStore, ticks TickStore, registry *RegistryService) *IngestService {
	return &IngestService{
		bars:     bars,
		ticks:    ticks,
		registry: registry,
	}
}

// RecordBar validates a second bar and upserts it. A later bar for the same
// key replaces the whole row.
func (s *IngestService) RecordBar(ctx context.Context, in BarInput) (Outcome, error) {
	bar, rejection := ValidateBar(in)
	if rejection != nil {
		zaplogger.Warn("bar rejected", zaplogger.Fields{
			"symbol":   in.Symbol,
			"contract": in.Contract,
			"exchange": in.Exchange,
			"reason":   rejection.Error(),
		})
		return Outcome{Rejection: rejection}, nil
	}

	if bar.ExchangeCode == "" {
		bar.ExchangeCode = s.registry.ResolveExchangeCode(ctx, bar.Exchange)
	}

	if err := s.bars.UpsertBar(ctx, models.Timeframe1s, bar); err != nil {
		return Outcome{}, fmt.Errorf("failed to record bar: %w", err)
	}
	return Outcome{Accepted: true, Bar: bar}, nil
}

// RecordBars records a batch of bars independently. Rejections do not stop
// the batch; an infrastructure error does.
func (s *IngestService) RecordBars(ctx context.Context, inputs []BarInput) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(inputs))
	for _, in := range inputs {
		outcome, err := s.RecordBar(ctx, in)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// RecordTick appends a raw tick. A tick whose key already exists is rejected
// and the stored tick is kept. Accepted trade ticks add to the contract's
// running volume.
func (s *IngestService) RecordTick(ctx context.Context, in TickInput) (Outcome, error) {
	tick, rejection := ValidateTick(in)
	if rejection != nil {
		zaplogger.Warn("tick rejected", zaplogger.Fields{
			"symbol":   in.Symbol,
			"contract": in.Contract,
			"exchange": in.Exchange,
			"reason":   rejection.Error(),
		})
		return Outcome{Rejection: rejection}, nil
	}

	if tick.ExchangeCode == "" {
		tick.ExchangeCode = s.registry.ResolveExchangeCode(ctx, tick.Exchange)
	}

	inserted, err := s.ticks.InsertTick(ctx, tick)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to record tick: %w", err)
	}
	if !inserted {
		rejection := reject(RejectDuplicateSequence, "a tick with this sequence number already exists", map[string]string{
			"timestamp":       tick.Timestamp.Format(time.RFC3339Nano),
			"symbol":          tick.Symbol,
			"contract":        tick.Contract,
			"exchange":        tick.Exchange,
			"sequence_number": strconv.FormatInt(tick.SequenceNumber, 10),
		})
		zaplogger.Warn("duplicate tick sequence", zaplogger.Fields{"reason": rejection.Error()})
		return Outcome{Rejection: rejection}, nil
	}

	if tick.TickType == models.TickTypeTrade && tick.Size > 0 {
		s.addContractVolume(ctx, tick.Contract, tick.Size)
	}
	return Outcome{Accepted: true, Tick: tick}, nil
}

// addContractVolume is best effort: the tick is already stored
func (s *IngestService) addContractVolume(ctx context.Context, contract string, size int64) {
	err := s.registry.store.IncrementContractVolume(ctx, contract, size)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		zaplogger.Debug("tick for unregistered contract", zaplogger.Fields{"contract": contract})
	default:
		zaplogger.Warn("failed to update contract volume", zaplogger.Fields{
			"contract": contract,
			"error":    err.Error(),
		})
	}
}
