// Package ratelimit provides per-key request limiting with a redis token
// bucket backend and an in-memory sliding window fallback.
package ratelimit

import (
	"context"
	"time"
)

// Result is one limiter decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter answers whether one more request under key may proceed. rate is
// tokens per second; burst is the bucket ceiling.
type Limiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error)
}
