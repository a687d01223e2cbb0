package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
)

// FeedService
const (
	defaultFeedChannelCapacity      = 100000
	defaultFeedFlushInterval        = time.Second
	channelCapacityWarningThreshold = 0.5 // 50% full
	monitorInterval                 = 10 * time.Second
	// a second bar stays open this long after its second ends to catch late trades
	barCloseGrace = time.Second
)

var (
	ErrFeedNotRunning     = errors.New("feed is not running")
	ErrFeedAlreadyRunning = errors.New("feed is already running")
	ErrFeedChannelFull    = errors.New("feed channel is full")
)

// FeedStatus is a snapshot of the feed counters
type FeedStatus struct {
	Running       bool  `json:"running"`
	SessionOpen   bool  `json:"session_open"`
	Queued        int   `json:"queued"`
	Capacity      int   `json:"capacity"`
	TicksReceived int64 `json:"ticks_received"`
	TicksAccepted int64 `json:"ticks_accepted"`
	TicksRejected int64 `json:"ticks_rejected"`
	TicksDropped  int64 `json:"ticks_dropped"`
	TicksLate     int64 `json:"ticks_late"`
	BarsWritten   int64 `json:"bars_written"`
	BarsRejected  int64 `json:"bars_rejected"`
	PendingBars   int   `json:"pending_bars"`
}

// FeedService bridges a stream of raw ticks into the ingestion gate. Every
// tick is stored as delivered, and accepted trade ticks are folded into
// second bars that are written once their second has passed.
type FeedService struct {
	ingest        *IngestService
	tickChannel   chan TickInput
	flushInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	pendingBars   atomic.Int64
	ticksReceived atomic.Int64
	ticksAccepted atomic.Int64
	ticksRejected atomic.Int64
	ticksDropped  atomic.Int64
	ticksLate     atomic.Int64
	barsWritten   atomic.Int64
	barsRejected  atomic.Int64
}

// NewFeedService creates a new FeedService
func NewFeedService(ingest *IngestService, capacity int, flushInterval time.Duration) *FeedService {
	if capacity <= 0 {
		capacity = defaultFeedChannelCapacity
	}
	if flushInterval <= 0 {
		flushInterval = defaultFeedFlushInterval
	}
	return &FeedService{
		ingest:        ingest,
		tickChannel:   make(chan TickInput, capacity),
		flushInterval: flushInterval,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start starts the processing loop
func (s *FeedService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrFeedAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.isRunning = true

	go s.processTicks(ctx, s.done)
	go s.monitorTickChannel(ctx)

	zaplogger.Info("Feed started", zaplogger.Fields{"capacity": cap(s.tickChannel)})
	return nil
}

// Stop drains queued ticks, writes every open bar and stops the loop
func (s *FeedService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return ErrFeedNotRunning
	}

	s.cancel()
	<-s.done
	s.isRunning = false

	zaplogger.Info("Feed stopped", zaplogger.Fields{"bars_written": s.barsWritten.Load()})
	return nil
}

// Submit queues a tick without blocking. A full channel drops the tick.
func (s *FeedService) Submit(tick TickInput) error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return ErrFeedNotRunning
	}

	s.ticksReceived.Add(1)
	select {
	case s.tickChannel <- tick:
		return nil
	default:
		s.ticksDropped.Add(1)
		return ErrFeedChannelFull
	}
}

// Status returns the current counters
func (s *FeedService) Status() FeedStatus {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()

	return FeedStatus{
		Running:       running,
		SessionOpen:   IsSessionOpen(s.now()),
		Queued:        len(s.tickChannel),
		Capacity:      cap(s.tickChannel),
		TicksReceived: s.ticksReceived.Load(),
		TicksAccepted: s.ticksAccepted.Load(),
		TicksRejected: s.ticksRejected.Load(),
		TicksDropped:  s.ticksDropped.Load(),
		TicksLate:     s.ticksLate.Load(),
		BarsWritten:   s.barsWritten.Load(),
		BarsRejected:  s.barsRejected.Load(),
		PendingBars:   int(s.pendingBars.Load()),
	}
}

func (s *FeedService) processTicks(ctx context.Context, done chan struct{}) {
	defer close(done)

	builder := NewBarBuilder()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain(builder)
			return
		case tick := <-s.tickChannel:
			s.processTick(ctx, tick, builder)
		case <-ticker.C:
			s.flushBars(ctx, builder.Flush(s.now().Add(-barCloseGrace).Truncate(time.Second)))
		}
		s.pendingBars.Store(int64(builder.Pending()))
	}
}

// drain handles what is still queued after cancellation, on a fresh context
func (s *FeedService) drain(builder *BarBuilder) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		select {
		case tick := <-s.tickChannel:
			s.processTick(ctx, tick, builder)
		default:
			s.flushBars(ctx, builder.FlushAll())
			s.pendingBars.Store(0)
			return
		}
	}
}

func (s *FeedService) processTick(ctx context.Context, in TickInput, builder *BarBuilder) {
	outcome, err := s.ingest.RecordTick(ctx, in)
	if err != nil {
		s.ticksRejected.Add(1)
		zaplogger.Error("processTick", zaplogger.Fields{"error": err.Error()})
		return
	}
	if !outcome.Accepted {
		s.ticksRejected.Add(1)
		return
	}
	s.ticksAccepted.Add(1)
	if !builder.Add(*outcome.Tick) {
		// stored as a raw tick, but too late to fold into its second bar
		s.ticksLate.Add(1)
		zaplogger.Warn("late trade tick", zaplogger.Fields{
			"contract":  outcome.Tick.Contract,
			"exchange":  outcome.Tick.Exchange,
			"timestamp": outcome.Tick.Timestamp,
		})
	}
}

// flushBars writes closed bars through the gate
func (s *FeedService) flushBars(ctx context.Context, bars []BarInput) {
	for _, bar := range bars {
		outcome, err := s.ingest.RecordBar(ctx, bar)
		if err != nil {
			s.barsRejected.Add(1)
			zaplogger.Error("flushBars", zaplogger.Fields{
				"symbol":   bar.Symbol,
				"contract": bar.Contract,
				"error":    err.Error(),
			})
			continue
		}
		if !outcome.Accepted {
			s.barsRejected.Add(1)
			continue
		}
		s.barsWritten.Add(1)
	}
}

// monitorTickChannel warns when the channel is filling up
func (s *FeedService) monitorTickChannel(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued := len(s.tickChannel)
			capacity := cap(s.tickChannel)
			if float64(queued)/float64(capacity) >= channelCapacityWarningThreshold {
				zaplogger.Warn("Feed channel is filling up", zaplogger.Fields{
					"queued":   queued,
					"capacity": capacity,
				})
			}
		}
	}
}
