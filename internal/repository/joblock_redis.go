package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const jobLockPrefix = "FTS:JOBLOCK:"

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisJobLock keeps a scheduled job single-instance across processes
type RedisJobLock struct {
	client *redis.Client
	tokens sync.Map
}

// NewRedisJobLock creates a new RedisJobLock
func NewRedisJobLock(client *redis.Client) *RedisJobLock {
	return &RedisJobLock{client: client}
}

// Acquire takes the lease for name. It reports false when another holder has it.
func (l *RedisJobLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, jobLockPrefix+name, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire job lock %s: %w", name, err)
	}
	if ok {
		l.tokens.Store(name, token)
	}
	return ok, nil
}

// Release drops the lease if this process still holds it
func (l *RedisJobLock) Release(ctx context.Context, name string) error {
	token, ok := l.tokens.LoadAndDelete(name)
	if !ok {
		return nil
	}
	if err := releaseLockScript.Run(ctx, l.client, []string{jobLockPrefix + name}, token).Err(); err != nil {
		return fmt.Errorf("failed to release job lock %s: %w", name, err)
	}
	return nil
}
