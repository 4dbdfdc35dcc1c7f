// Package redisquota keeps the global daily generation counter in Redis so
// several hosts running the local driver can share one quota.
package redisquota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"snapshotd/services/snapshots"
)

// acquireScript increments the day's counter only while it is below the limit.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = ttl in seconds
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
    return {0, current}
end
current = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
return {1, current}
`)

// releaseScript decrements the counter without going below zero.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= 0 then
    return 0
end
return redis.call("DECR", KEYS[1])
`)

// DefaultTTL keeps a day's counter around long enough to cover every time zone.
const DefaultTTL = 48 * time.Hour

// Counter implements snapshots.QuotaCounter.
type Counter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ snapshots.QuotaCounter = (*Counter)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

func New(opts Options) (*Counter, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, opts.TTL), nil
}

func NewWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Counter {
	if prefix == "" {
		prefix = "snapshotd:quota:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Counter{client: client, prefix: prefix, ttl: ttl}
}

func (c *Counter) key(dateKey string) string {
	return c.prefix + dateKey
}

func (c *Counter) AcquireSlot(ctx context.Context, dateKey string, limit int, _ time.Time) (snapshots.QuotaResult, error) {
	res, err := acquireScript.Run(ctx, c.client, []string{c.key(dateKey)}, limit, int64(c.ttl/time.Second)).Result()
	if err != nil {
		return snapshots.QuotaResult{}, fmt.Errorf("redis quota acquire: %w", err)
	}
	acquired, current, err := parseAcquire(res)
	if err != nil {
		return snapshots.QuotaResult{}, err
	}
	if !acquired {
		return snapshots.QuotaResult{Acquired: false, Current: current, Remaining: 0}, nil
	}
	return snapshots.QuotaResult{Acquired: true, Current: current, Remaining: max(limit-current, 0)}, nil
}

func (c *Counter) ReleaseSlot(ctx context.Context, dateKey string, _ time.Time) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(dateKey)}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis quota release: %w", err)
	}
	return nil
}

func (c *Counter) Close() error {
	return c.client.Close()
}

func parseAcquire(res any) (bool, int, error) {
	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected quota script reply %v", res)
	}
	flag, ok1 := values[0].(int64)
	current, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected quota script reply %v", res)
	}
	return flag == 1, int(current), nil
}
