package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a process-local Store used when Redis is not configured.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now, window)

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// sweep drops expired windows at most once per window length.
func (s *MemoryStore) sweep(now time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
	s.lastSweep = now
}
