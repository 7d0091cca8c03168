// Package ratelimit implements a token-bucket rate limiter for broker REST
// and WebSocket traffic.
//
// Brokers enforce per-category rate limits (REST calls per second, WS pulls
// per second). This bucket refills continuously rather than in fixed windows,
// so callers see smooth backpressure instead of bursty throttling.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a token-bucket rate limiter with continuous refill.
// Callers block in Acquire until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were recalculated
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// refill rate in tokens per second. The bucket starts full.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Acquire blocks until a single token is available or ctx is cancelled.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	return tb.AcquireN(ctx, 1)
}

// AcquireN blocks until cost tokens are available or ctx is cancelled.
func (tb *TokenBucket) AcquireN(ctx context.Context, cost float64) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		if elapsed > 0 {
			tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.rate)
			tb.lastTime = now
		}

		if tb.tokens >= cost {
			tb.tokens -= cost
			tb.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if tb.rate > 0 {
			wait = time.Duration((cost - tb.tokens) / tb.rate * float64(time.Second))
		} else {
			wait = time.Second
		}
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// Group bundles the two token buckets TradingMarket needs: one for REST
// calls, one for pulling messages off each WebSocket channel.
type Group struct {
	REST *TokenBucket
	WS   *TokenBucket
}

// NewGroup builds a Group from the given REST and WS-pull rate parameters.
func NewGroup(restCapacity, restRPS, wsCapacity, wsRPS float64) *Group {
	return &Group{
		REST: NewTokenBucket(restCapacity, restRPS),
		WS:   NewTokenBucket(wsCapacity, wsRPS),
	}
}
