// Package ratelimit implements a fixed-window request limiter keyed by
// (actor, modality). Counter storage is pluggable: a process-local map for
// single instances, Redis for shared state across instances.
//
// Fixed windows (not a sliding log) are a deliberate simplicity trade-off:
// a burst straddling a window boundary can observe up to twice the ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/promptgate/promptgate/internal/validate"
)

// ActorKind distinguishes the identity a caller is limited by.
type ActorKind string

const (
	// ActorIP limits unauthenticated callers by client IP.
	ActorIP ActorKind = "ip"

	// ActorUser limits authenticated callers by user id, with higher tiers.
	ActorUser ActorKind = "user"
)

// Actor is the rate-limited identity.
type Actor struct {
	Kind ActorKind
	ID   string
}

// ActorFor picks the limited identity for a request: the user id when
// authenticated, otherwise the client IP.
func ActorFor(clientIP, userID string) Actor {
	if userID != "" {
		return Actor{Kind: ActorUser, ID: userID}
	}
	return Actor{Kind: ActorIP, ID: clientIP}
}

// WindowConfig is one fixed-window ceiling.
type WindowConfig struct {
	WindowSeconds int `koanf:"window_seconds"`
	MaxRequests   int `koanf:"max_requests"`
}

func (c WindowConfig) window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Tiers holds the per-modality ceilings for each actor kind plus a global
// fallback for unlisted modalities.
type Tiers struct {
	IP       map[validate.Modality]WindowConfig `koanf:"ip"`
	User     map[validate.Modality]WindowConfig `koanf:"user"`
	Fallback WindowConfig                       `koanf:"fallback"`
}

// DefaultTiers returns the standard limits: unauthenticated callers get
// lower per-IP ceilings, authenticated users get double.
func DefaultTiers() Tiers {
	return Tiers{
		IP: map[validate.Modality]WindowConfig{
			validate.ModalityChat:  {WindowSeconds: 60, MaxRequests: 30},
			validate.ModalityImage: {WindowSeconds: 60, MaxRequests: 10},
			validate.ModalityTTS:   {WindowSeconds: 60, MaxRequests: 20},
		},
		User: map[validate.Modality]WindowConfig{
			validate.ModalityChat:  {WindowSeconds: 60, MaxRequests: 60},
			validate.ModalityImage: {WindowSeconds: 60, MaxRequests: 20},
			validate.ModalityTTS:   {WindowSeconds: 60, MaxRequests: 40},
		},
		Fallback: WindowConfig{WindowSeconds: 60, MaxRequests: 20},
	}
}

// configFor resolves the ceiling for an actor kind and modality.
func (t Tiers) configFor(kind ActorKind, modality validate.Modality) WindowConfig {
	var table map[validate.Modality]WindowConfig
	switch kind {
	case ActorUser:
		table = t.User
	default:
		table = t.IP
	}
	if cfg, ok := table[modality]; ok {
		return cfg
	}
	return t.Fallback
}

// Result is the derived outcome of one limiter check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetIn    int // seconds until the window resets
	RetryAfter int // seconds; 0 when allowed
}

// Limiter applies fixed-window ceilings using a pluggable Store.
type Limiter struct {
	store  Store
	tiers  Tiers
	logger *slog.Logger
	now    func() time.Time
}

// New creates a limiter over the given store.
func New(store Store, tiers Tiers, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, tiers: tiers, logger: logger, now: time.Now}
}

// Check consumes one request from the actor's window for the modality and
// reports the decision. Check never fails: a store error fails open with a
// full window, since denying on infrastructure trouble would turn an
// internal fault into a user-visible outage.
func (l *Limiter) Check(ctx context.Context, actor Actor, modality validate.Modality) Result {
	cfg := l.tiers.configFor(actor.Kind, modality)
	key := fmt.Sprintf("%s:%s:%s", actor.Kind, modality, actor.ID)

	count, resetAt, err := l.store.Increment(ctx, key, cfg.window())
	if err != nil {
		l.logger.Error("rate limit store failure, failing open",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetIn:   cfg.WindowSeconds,
		}
	}

	resetIn := int(math.Ceil(resetAt.Sub(l.now()).Seconds()))
	if resetIn < 0 {
		resetIn = 0
	}

	result := Result{
		Allowed:   count <= cfg.MaxRequests,
		Limit:     cfg.MaxRequests,
		Remaining: max(0, cfg.MaxRequests-count),
		ResetIn:   resetIn,
	}
	if !result.Allowed {
		result.RetryAfter = resetIn
	}
	return result
}
