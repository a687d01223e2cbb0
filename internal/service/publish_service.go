package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var RedisBarsChannel = "CH:FTS:BARS"

// LastPriceHashKey holds the last close per contract and exchange
var LastPriceHashKey = "FTS:LTP"

// LastPriceTimeHashKey holds the bar time, in unix milliseconds, of each last close
var LastPriceTimeHashKey = "FTS:LTP:TS"

// setLastPriceScript writes a close unless a newer bar already set one
var setLastPriceScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[2], ARGV[1]))
if current and current > tonumber(ARGV[2]) then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1`)

const listenerPingInterval = 90 * time.Second

// BarEvent is the payload of a second bar notification
type BarEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Contract  string          `json:"contract"`
	Exchange  string          `json:"exchange"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// PublishService relays second bar notifications from postgres to redis
type PublishService struct {
	redisClient *redis.Client
	pgConnStr   string
}

func NewPublishService(redisClient *redis.Client, pgConnStr string) *PublishService {
	return &PublishService{
		redisClient: redisClient,
		pgConnStr:   pgConnStr,
	}
}

// Run listens until ctx is done
func (s *PublishService) Run(ctx context.Context) error {
	listener := pq.NewListener(s.pgConnStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			zaplogger.Warn("bar listener event", zaplogger.Fields{"event": int(ev), "error": err.Error()})
		}
	})
	defer listener.Close()

	if err := listener.Listen(repository.BarsNotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", repository.BarsNotifyChannel, err)
	}
	zaplogger.Info("Publishing bars to redis", zaplogger.Fields{"channel": RedisBarsChannel})

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect
			if n == nil {
				continue
			}
			if err := s.Forward(ctx, n.Extra); err != nil {
				zaplogger.Error("Failed to publish to Redis", zaplogger.Fields{"error": err.Error()})
			}
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					zaplogger.Error("Error pinging PostgreSQL", zaplogger.Fields{"error": err.Error()})
				}
			}()
		}
	}
}

// Forward publishes one notification payload and records its close when the
// bar is not older than the recorded one
func (s *PublishService) Forward(ctx context.Context, payload string) error {
	var ev BarEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("invalid bar payload: %w", err)
	}

	if err := s.redisClient.Publish(ctx, RedisBarsChannel, payload).Err(); err != nil {
		return err
	}

	// a redelivered older second must not replace a newer close
	field := ev.Contract + ":" + ev.Exchange
	keys := []string{LastPriceHashKey, LastPriceTimeHashKey}
	if err := setLastPriceScript.Run(ctx, s.redisClient, keys, field, ev.Timestamp.UnixMilli(), ev.Close.String()).Err(); err != nil {
		return fmt.Errorf("failed to set last price of %s: %w", field, err)
	}
	return nil
}
