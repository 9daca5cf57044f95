// Package ratelimit implements a fixed-window request counter with pluggable storage.
package ratelimit

import (
	"context"
	"time"
)

// Store increments the counter for key inside the window that starts when the
// key is first seen. It returns the new count and the time left in the window.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindow permits up to Permits requests per Window for each partition key.
type FixedWindow struct {
	store   Store
	permits int
	window  time.Duration
	prefix  string
}

// NewFixedWindow builds a limiter. permits <= 0 disables limiting.
func NewFixedWindow(store Store, permits int, window time.Duration) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{store: store, permits: permits, window: window, prefix: "ratelimit:"}
}

// Allow counts one request for key.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	if f.permits <= 0 {
		return Decision{Allowed: true}, nil
	}

	count, ttl, err := f.store.Increment(ctx, f.prefix+key, f.window)
	if err != nil {
		return Decision{}, err
	}
	if ttl <= 0 {
		ttl = f.window
	}

	if count > int64(f.permits) {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: f.permits - int(count)}, nil
}
