// Package ratelimit tracks request quota usage per connection.
//
// This package contains:
//   - Tracker: fixed-window counters, one per connection
//   - Store: optional shared counter backend (Redis) for multi-instance setups
//   - Predictor: estimates when a quota will run out from the request rate
//
// The tracker only observes. It never delays or rejects a probe.
package ratelimit

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/metrics"
)

// Store mirrors counters outside the process.
type Store interface {
	IncrWindow(ctx context.Context, connectionID string, cost int, window time.Duration) (int, time.Duration, error)
	DeleteWindow(ctx context.Context, connectionID string) error
}

type entry struct {
	mu      sync.Mutex
	used    int
	limit   int
	window  time.Duration
	resetAt time.Time
}

func (e *entry) state(id string) domain.RateLimitState {
	return domain.RateLimitState{
		ConnectionID: id,
		Used:         e.used,
		Limit:        e.limit,
		ResetAt:      e.resetAt,
	}
}

// Tracker keeps one counter per configured connection. Updates to the same
// connection are serialized by its entry lock; different connections never
// contend beyond the map lookup.
type Tracker struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	store     Store
	predictor *Predictor
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore mirrors counters into a shared store.
func WithStore(s Store) Option {
	return func(t *Tracker) { t.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.predictor = NewPredictor(t.now)
	return t
}

// Configure declares or replaces the quota of a connection. A non-positive
// limit removes tracking. Changing only the limit keeps the current window
// and its count; a new window length starts a fresh window.
func (t *Tracker) Configure(connectionID string, limit int, window time.Duration) {
	if limit <= 0 || window <= 0 {
		t.Remove(context.Background(), connectionID)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[connectionID]; ok {
		e.mu.Lock()
		e.limit = limit
		if e.window != window {
			e.window = window
			e.used = 0
			e.resetAt = t.now().Add(window)
		}
		e.mu.Unlock()
		return
	}

	t.entries[connectionID] = &entry{
		limit:   limit,
		window:  window,
		resetAt: t.now().Add(window),
	}
}

func (t *Tracker) get(connectionID string) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[connectionID]
}

// RecordRequest adds cost to the current window, starting a new window first
// when the previous one has elapsed. Unconfigured connections are ignored.
func (t *Tracker) RecordRequest(ctx context.Context, connectionID string, cost int) (domain.RateLimitState, bool) {
	e := t.get(connectionID)
	if e == nil {
		return domain.RateLimitState{}, false
	}
	if cost <= 0 {
		cost = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := t.now()
	recorded := false
	if t.store != nil {
		used, ttl, err := t.store.IncrWindow(ctx, connectionID, cost, e.window)
		if err == nil {
			e.used = used
			e.resetAt = now.Add(ttl)
			recorded = true
		} else {
			metrics.RedisErrors.Inc()
			t.logger.Warn("Rate limit store unavailable, counting locally",
				"connection", connectionID,
				"error", err,
			)
		}
	}

	if !recorded {
		if !now.Before(e.resetAt) {
			e.used = 0
			e.resetAt = now.Add(e.window)
		}
		e.used += cost
	}

	t.predictor.RecordRequest(connectionID, cost)

	state := e.state(connectionID)
	metrics.RateLimitUsage.WithLabelValues(connectionID).Set(state.PercentUsed())
	return state, true
}

// Get returns the state of a configured connection.
func (t *Tracker) Get(connectionID string) (domain.RateLimitState, bool) {
	e := t.get(connectionID)
	if e == nil {
		return domain.RateLimitState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(connectionID), true
}

// PercentUsed returns used/limit*100, 0 for unconfigured connections.
func (t *Tracker) PercentUsed(connectionID string) float64 {
	state, _ := t.Get(connectionID)
	return state.PercentUsed()
}

// All returns every configured state ordered by connection id.
func (t *Tracker) All() []domain.RateLimitState {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	entries := make(map[string]*entry, len(t.entries))
	for id, e := range t.entries {
		ids = append(ids, id)
		entries[id] = e
	}
	t.mu.RUnlock()

	slices.SortFunc(ids, strings.Compare)
	out := make([]domain.RateLimitState, 0, len(ids))
	for _, id := range ids {
		e := entries[id]
		e.mu.Lock()
		out = append(out, e.state(id))
		e.mu.Unlock()
	}
	return out
}

// Prediction estimates quota exhaustion for a connection.
func (t *Tracker) Prediction(connectionID string) PredictionStats {
	state, ok := t.Get(connectionID)
	if !ok {
		return PredictionStats{}
	}
	return t.predictor.Stats(connectionID, max(0, state.Limit-state.Used))
}

// Remove stops tracking a connection.
func (t *Tracker) Remove(ctx context.Context, connectionID string) {
	t.mu.Lock()
	_, existed := t.entries[connectionID]
	delete(t.entries, connectionID)
	t.mu.Unlock()

	t.predictor.Forget(connectionID)
	if existed && t.store != nil {
		if err := t.store.DeleteWindow(ctx, connectionID); err != nil {
			t.logger.Warn("Failed to delete rate limit window", "connection", connectionID, "error", err)
		}
	}
}
