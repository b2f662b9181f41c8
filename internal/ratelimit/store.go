package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is the counter backend for the limiter. Increment must be atomic
// per key with respect to concurrent callers; the decision logic in Limiter
// never changes between backends.
type Store interface {
	// Increment bumps the counter for key, creating a fresh window of the
	// given duration when no live entry exists. It returns the
	// post-increment count and the window's reset time.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Sweep removes expired entries. It is a memory optimization only:
	// lazy expiry on Increment keeps decisions correct without it.
	Sweep(ctx context.Context) error
}

// entry is a single fixed-window counter.
type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the process-local Store: a mutex-guarded map with lazy
// expiry on read and a periodic sweep to bound memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.resetAt.After(now) {
		// No entry, or the existing window has elapsed: start a fresh one.
		e = &entry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
		return e.count, e.resetAt, nil
	}

	e.count++
	return e.count, e.resetAt, nil
}

func (s *MemoryStore) Sweep(_ context.Context) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if !e.resetAt.After(now) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Len reports the number of live and expired entries currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Sweep(ctx)
			}
		}
	}()
}
