package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fairwaylabs/fairway/internal/clock"
)

// SlidingWindow is an in-process limiter used when redis is not
// configured. Each key holds its own window; keys never share a bucket.
type SlidingWindow struct {
	clock clock.Clock

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	timestamps []time.Time
}

func NewSlidingWindow(clk clock.Clock) *SlidingWindow {
	return &SlidingWindow{
		clock:   clk,
		windows: make(map[string]*window),
	}
}

func (s *SlidingWindow) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	if key == "" || rate <= 0 || burst <= 0 {
		return &Result{Allowed: false}, nil
	}

	now := s.clock.Now()
	span := time.Duration(float64(burst)/rate) * time.Second
	if span <= 0 {
		span = time.Second
	}
	cutoff := now.Add(-span)

	s.mu.Lock()
	defer s.mu.Unlock()

	win, ok := s.windows[key]
	if !ok {
		win = &window{}
		s.windows[key] = win
	}

	kept := win.timestamps[:0]
	for _, ts := range win.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	win.timestamps = kept

	if len(win.timestamps) >= burst {
		oldest := win.timestamps[0]
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: oldest.Add(span).Sub(now),
		}, nil
	}

	win.timestamps = append(win.timestamps, now)
	return &Result{
		Allowed:   true,
		Remaining: burst - len(win.timestamps),
	}, nil
}

// Prune drops windows that have gone idle. Called periodically by the
// usage meter's flush loop.
func (s *SlidingWindow) Prune(olderThan time.Duration) {
	cutoff := s.clock.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, win := range s.windows {
		if len(win.timestamps) == 0 || !win.timestamps[len(win.timestamps)-1].After(cutoff) {
			delete(s.windows, key)
		}
	}
}
