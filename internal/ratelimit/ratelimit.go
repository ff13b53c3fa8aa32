// Package ratelimit implements per-AGV inbound message rate limiting,
// adapted from the teacher's client-IP rate limiter: a token bucket per
// AGV id, with an optional Redis-backed sliding window for coordinating
// across multiple gateway instances.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

type Config struct {
	RatePerSecond   float64
	Burst           int
	CleanupInterval time.Duration
	RedisAddr       string
	RedisKeyPrefix  string
	WindowSize      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RatePerSecond:   50,
		Burst:           100,
		CleanupInterval: 30 * time.Second,
		RedisKeyPrefix:  "agv-gateway:ratelimit",
		WindowSize:      time.Second,
	}
}

type agvLimiter struct {
	limiter         *rate.Limiter
	lastRequestTime int64 // unix nanos, atomic
}

// Limiter is the concrete per-AGV rate limiter. Distributed mode is
// enabled automatically when a Redis client is supplied.
type Limiter struct {
	cfg     Config
	redis   *redis.Client
	limiters sync.Map // map[string]*agvLimiter

	allowed  atomic.Int64
	rejected atomic.Int64

	stopCleanup chan struct{}
}

func New(cfg Config, redisClient *redis.Client) *Limiter {
	l := &Limiter{cfg: cfg, redis: redisClient, stopCleanup: make(chan struct{})}
	go l.cleanupLoop()
	return l
}

// Distributed reports whether the Redis-coordinated tier is active.
func (l *Limiter) Distributed() bool { return l.redis != nil }

// Allow reports whether a message from agvID should be processed. Never
// blocks: callers check this inline on the I/O thread.
func (l *Limiter) Allow(agvID string) bool {
	al := l.getOrCreate(agvID)
	if !al.limiter.Allow() {
		l.rejected.Add(1)
		return false
	}

	if l.redis != nil {
		allowed, err := l.allowDistributed(agvID)
		if err != nil {
			// Fail open: a Redis hiccup must not start dropping telemetry.
			l.allowed.Add(1)
			return true
		}
		if !allowed {
			l.rejected.Add(1)
			return false
		}
	}

	atomic.StoreInt64(&al.lastRequestTime, time.Now().UnixNano())
	l.allowed.Add(1)
	return true
}

func (l *Limiter) getOrCreate(agvID string) *agvLimiter {
	if v, ok := l.limiters.Load(agvID); ok {
		return v.(*agvLimiter)
	}
	al := &agvLimiter{
		limiter:         rate.NewLimiter(rate.Limit(l.cfg.RatePerSecond), l.cfg.Burst),
		lastRequestTime: time.Now().UnixNano(),
	}
	actual, _ := l.limiters.LoadOrStore(agvID, al)
	return actual.(*agvLimiter)
}

func (l *Limiter) allowDistributed(agvID string) (bool, error) {
	ctx := context.Background()
	key := fmt.Sprintf("%s:agv:%s", l.cfg.RedisKeyPrefix, agvID)
	now := time.Now().UnixNano()
	windowStart := now - l.cfg.WindowSize.Nanoseconds()

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now), Member: now})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.cfg.WindowSize*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := card.Result()
	if err != nil {
		return false, err
	}
	return count <= int64(l.cfg.RatePerSecond*l.cfg.WindowSize.Seconds()), nil
}

// Stats returns the running allowed/rejected counters.
func (l *Limiter) Stats() (allowed, rejected int64) {
	return l.allowed.Load(), l.rejected.Load()
}

func (l *Limiter) Close() {
	close(l.stopCleanup)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.cfg.CleanupInterval * 4).UnixNano()
			l.limiters.Range(func(key, value interface{}) bool {
				al := value.(*agvLimiter)
				if atomic.LoadInt64(&al.lastRequestTime) < cutoff {
					l.limiters.Delete(key)
				}
				return true
			})
		}
	}
}
