// Package audit records security-relevant pipeline events: rate-limit
// denials, blocked prompts, oversized requests, and handler timeouts.
// Recording is best-effort; a recorder failure never affects the request.
package audit

import (
	"context"
	"sync"
	"time"
)

// Outcome classifies what the pipeline did about an event.
type Outcome string

const (
	OutcomeBlocked  Outcome = "blocked"
	OutcomeDenied   Outcome = "denied"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeError    Outcome = "error"
)

// Event is one recorded security occurrence.
type Event struct {
	RequestID string    `db:"request_id"`
	Time      time.Time `db:"occurred_at"`
	Modality  string    `db:"modality"`
	Stage     string    `db:"stage"`
	Outcome   Outcome   `db:"outcome"`
	ActorKind string    `db:"actor_kind"`
	ActorID   string    `db:"actor_id"`
	Flags     []string  `db:"-"`
	Detail    string    `db:"detail"`
}

// Recorder persists security events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	Close() error
}

// MemoryRecorder keeps the most recent events in a fixed-size ring.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool
}

// NewMemoryRecorder creates a ring holding up to capacity events.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryRecorder{events: make([]Event, capacity)}
}

func (r *MemoryRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = ev
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.filled = true
	}
	return nil
}

func (r *MemoryRecorder) Recent(_ context.Context, limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.filled {
		size = len(r.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out, nil
}

func (r *MemoryRecorder) Close() error {
	return nil
}
