// Package store wraps a Redis client with the typed persistence
// primitives every other component in this engine is built on (L1 in
// SPEC_FULL.md). It is grounded on pkg/database/redis.go's RedisClient
// wrapper, trimmed to the primitives this domain actually needs:
// atomic set-if-absent with TTL (dedupe, AI lock), atomic
// increment-with-expire (rate limiting), a Lua compare-and-delete
// (single-flight lock release), and the list/scan operations the event
// log and status endpoint use.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tvsignal/engine/internal/config"
	"github.com/tvsignal/engine/pkg/observability"
)

// releaseIfOwnerScript atomically deletes a key only if its current
// value equals the caller-supplied token. This is the only safe
// compare-and-delete against Redis: GET-then-DEL is never atomic.
const releaseIfOwnerScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Store wraps *redis.Client with the primitives the engine needs and
// tracks lightweight operation metrics, grounded on
// pkg/database/redis.go's RedisClient.
type Store struct {
	client  *redis.Client
	logger  *observability.Logger
	metrics *opMetrics
	release *redis.Script
}

type opMetrics struct {
	mu         sync.Mutex
	hitCount   int64
	missCount  int64
	setCount   int64
	avgLatency time.Duration
}

// New connects to Redis using the given config, verifying connectivity
// with a bounded ping before returning.
func New(cfg config.RedisConfig, logger *observability.Logger) (*Store, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.PoolTimeout = cfg.PoolTimeout
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = cfg.MinRetryBackoff
	opt.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s := &Store{
		client:  client,
		logger:  logger,
		metrics: &opMetrics{},
		release: redis.NewScript(releaseIfOwnerScript),
	}

	logger.Info(ctx, "store connected", map[string]interface{}{"pool_size": opt.PoolSize})
	return s, nil
}

func (s *Store) record(op string, start time.Time, hit bool) {
	d := time.Since(start)
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()
	if s.metrics.avgLatency == 0 {
		s.metrics.avgLatency = d
	} else {
		const alpha = 0.1
		s.metrics.avgLatency = time.Duration(float64(s.metrics.avgLatency)*(1-alpha) + float64(d)*alpha)
	}
	switch op {
	case "set":
		s.metrics.setCount++
	case "hit":
		s.metrics.hitCount++
	case "miss":
		s.metrics.missCount++
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether the store is reachable within 2s, used by the
// /status endpoint's redis_ok field.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Get returns the raw string value of key, or redis.Nil if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		s.record("miss", start, false)
		return "", err
	}
	if err != nil {
		return "", err
	}
	s.record("hit", start, true)
	return v, nil
}

// Set sets key=value with the given TTL (0 means no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, key, value, ttl).Err()
	s.record("set", start, false)
	return err
}

// SetNX atomically sets key=value with a TTL only if key is absent.
// Returns true if the set happened. This is the dedupe primitive
// (spec.md §4.2) — never GET-then-SET.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	s.record("set", start, false)
	return ok, err
}

// IncrWithExpire increments key and, only on the first increment
// (count == 1), sets its TTL. This is the rate-limit primitive
// (spec.md §4.2): atomic INCR, conditional EXPIRE.
func (s *Store) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// ReleaseIfOwner atomically deletes key only if its value equals token
// (the AI lock's compare-and-delete release, spec.md §4.5/§9).
func (s *Store) ReleaseIfOwner(ctx context.Context, key, token string) error {
	_, err := s.release.Run(ctx, s.client, []string{key}, token).Result()
	return err
}

// RPush appends a JSON-encoded member to a list key.
func (s *Store) RPush(ctx context.Context, key, value string) error {
	return s.client.RPush(ctx, key, value).Err()
}

// LTrim trims a list to the given inclusive range (negative indices
// count from the tail, as in Redis LTRIM).
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

// Expire refreshes a key's TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// LRange returns the given inclusive range of a list's members.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

// LLen returns a list's length.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

// LRem removes up to count occurrences of value from a list.
func (s *Store) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	return s.client.LRem(ctx, key, count, value).Result()
}

// Del deletes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// ScanSum sums the integer value of every key matching pattern, used by
// the /status endpoint's events_last_minute rate-bucket scan
// (SPEC_FULL.md §6/original_source's status.py).
func (s *Store) ScanSum(ctx context.Context, pattern string) (int64, error) {
	var total int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return total, err
		}
		for _, k := range keys {
			v, err := s.client.Get(ctx, k).Int64()
			if err == nil {
				total += v
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// Metrics returns a point-in-time snapshot of operation counters, used
// by diagnostics/health surfaces.
func (s *Store) Metrics() map[string]interface{} {
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()
	return map[string]interface{}{
		"hit_count":   s.metrics.hitCount,
		"miss_count":  s.metrics.missCount,
		"set_count":   s.metrics.setCount,
		"avg_latency": s.metrics.avgLatency.String(),
	}
}

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool {
	return err == redis.Nil
}
