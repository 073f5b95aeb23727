// Package quota provides the Redis-backed quota counter, an alternative to
// the SQL quota_windows table for deployments that already run Redis.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/faucetdb/quotakey/internal/model"
)

// windowTTL keeps a window's key alive past its minute so late readers
// still see the final count; Redis expires it afterwards.
const windowTTL = 2 * time.Minute

// checkAndIncrement runs server-side so the comparison and the increment
// cannot interleave with another caller's.
var checkAndIncrement = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current}
end
local after = redis.call('INCR', KEYS[1])
if after == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, after - 1}
`)

// RedisCounter implements the limiter's Counter on Redis.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to redisURL (redis://host:port/db) and verifies
// the connection.
func NewRedisCounter(ctx context.Context, redisURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCounter{client: client}, nil
}

// Key returns the Redis key of a quota window.
func Key(callerID, endpoint string, mode model.EnvironmentMode, windowStart time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%s:%d", callerID, endpoint, mode, windowStart.UTC().Unix())
}

// CheckAndIncrement increments the window counter if it is below maxAllowed.
func (c *RedisCounter) CheckAndIncrement(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode, windowStart time.Time, maxAllowed int) (model.QuotaResult, error) {
	key := Key(callerID, endpoint, mode, windowStart)

	if maxAllowed <= 0 {
		n, err := c.client.Get(ctx, key).Int()
		if err != nil && err != redis.Nil {
			return model.QuotaResult{}, fmt.Errorf("read quota window: %w", err)
		}
		return model.QuotaResult{Allowed: false, Count: n}, nil
	}

	res, err := checkAndIncrement.Run(ctx, c.client, []string{key}, maxAllowed, windowTTL.Milliseconds()).Slice()
	if err != nil {
		return model.QuotaResult{}, fmt.Errorf("increment quota window: %w", err)
	}
	if len(res) != 2 {
		return model.QuotaResult{}, fmt.Errorf("increment quota window: unexpected reply %v", res)
	}

	allowed, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return model.QuotaResult{}, fmt.Errorf("increment quota window: unexpected reply %v", res)
	}

	return model.QuotaResult{Allowed: allowed == 1, Count: int(count)}, nil
}

// Ping verifies Redis is reachable.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}
