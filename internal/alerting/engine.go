// Package alerting evaluates threshold rules against health snapshots and
// rate-limit usage and maintains the alert table.
package alerting

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/infra/storage"
	"github.com/vietddude/apiwatch/internal/metrics"
)

const (
	// DefaultDebouncePasses is how many consecutive clear passes resolve an alert.
	DefaultDebouncePasses = 3

	// resolvedHistory bounds the resolved alerts kept for All.
	resolvedHistory = 200
)

// EventType describes what happened to an alert during a pass.
type EventType string

const (
	EventTriggered EventType = "triggered"
	EventUpdated   EventType = "updated"
	EventResolved  EventType = "resolved"
)

// Event is emitted for every alert change made by Evaluate.
type Event struct {
	Type  EventType    `json:"type"`
	Alert domain.Alert `json:"alert"`
}

// Notifier receives alert events. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Option configures the engine.
type Option func(*Engine)

func WithRepository(repo storage.AlertRepository) Option {
	return func(e *Engine) { e.repo = repo }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithDebounce(passes int) Option {
	return func(e *Engine) {
		if passes > 0 {
			e.debounce = passes
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Input is the per-connection data a pass evaluates. Nil values mean the
// condition does not hold.
type Input struct {
	ConnectionID string
	Name         string
	Health       *domain.HealthSnapshot
	RateLimit    *domain.RateLimitState
}

// Engine holds the alert table. At most one open alert exists per
// (connection, rule).
type Engine struct {
	mu       sync.Mutex
	rules    []domain.AlertRule
	open     map[string]*domain.Alert // key: connection|rule
	byID     map[string]*domain.Alert
	clear    map[string]int
	resolved []*domain.Alert

	debounce int
	repo     storage.AlertRepository
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine validates rules and creates an engine.
func NewEngine(rules []domain.AlertRule, opts ...Option) (*Engine, error) {
	validated, err := ValidateRules(rules)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		rules:    validated,
		open:     make(map[string]*domain.Alert),
		byID:     make(map[string]*domain.Alert),
		clear:    make(map[string]int),
		debounce: DefaultDebouncePasses,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func alertKey(connectionID, ruleID string) string {
	return connectionID + "|" + ruleID
}

// Rules returns a copy of the rule set.
func (e *Engine) Rules() []domain.AlertRule {
	return slices.Clone(e.rules)
}

// Load restores open alerts from the repository.
func (e *Engine) Load(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	alerts, err := e.repo.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range alerts {
		cp := *a
		e.open[alertKey(cp.ConnectionID, cp.RuleID)] = &cp
		e.byID[cp.ID] = &cp
	}
	e.updateGauge()
	return nil
}

// Evaluate runs every rule against every input and returns the changes made.
// Open alerts whose connection is missing from inputs count as a clear pass.
func (e *Engine) Evaluate(ctx context.Context, inputs []Input) []Event {
	now := e.now()

	e.mu.Lock()
	var events []Event
	seen := make(map[string]struct{}, len(inputs)*len(e.rules))

	for _, in := range inputs {
		for _, rule := range e.rules {
			key := alertKey(in.ConnectionID, rule.ID)
			seen[key] = struct{}{}

			value, ok := metricValue(rule.Metric, in)
			if ok && holds(rule, value) {
				events = append(events, e.raise(key, in, rule, value, now))
				continue
			}
			if ev, resolved := e.clearPass(key, now); resolved {
				events = append(events, ev)
			}
		}
	}

	for key := range e.open {
		if _, ok := seen[key]; ok {
			continue
		}
		if ev, resolved := e.clearPass(key, now); resolved {
			events = append(events, ev)
		}
	}
	e.updateGauge()
	e.mu.Unlock()

	for i := range events {
		e.persist(ctx, &events[i].Alert)
		if e.notifier != nil {
			e.notifier.Notify(ctx, events[i])
		}
	}
	return events
}

func metricValue(metric domain.AlertMetric, in Input) (float64, bool) {
	switch metric {
	case domain.MetricLatency:
		if in.Health == nil || in.Health.RollingAvgLatencyMs == nil {
			return 0, false
		}
		return *in.Health.RollingAvgLatencyMs, true
	case domain.MetricErrorRate:
		if in.Health == nil || in.Health.RequestCount == 0 {
			return 0, false
		}
		return in.Health.ErrorRatePercent, true
	case domain.MetricRateLimitUsage:
		if in.RateLimit == nil || in.RateLimit.Limit <= 0 {
			return 0, false
		}
		return in.RateLimit.PercentUsed(), true
	}
	return 0, false
}

// raise creates or refreshes the open alert. Caller holds mu.
func (e *Engine) raise(key string, in Input, rule domain.AlertRule, value float64, now time.Time) Event {
	delete(e.clear, key)
	name := in.Name
	if name == "" {
		name = in.ConnectionID
	}

	if a, ok := e.open[key]; ok {
		a.Value = value
		a.Severity = SeverityFor(value, rule.Threshold)
		a.Threshold = rule.Threshold
		a.Message = message(name, rule, value)
		a.LastSeenAt = now
		return Event{Type: EventUpdated, Alert: *a}
	}

	a := &domain.Alert{
		ID:               uuid.NewString(),
		RuleID:           rule.ID,
		ConnectionID:     in.ConnectionID,
		Metric:           rule.Metric,
		Severity:         SeverityFor(value, rule.Threshold),
		Message:          message(name, rule, value),
		Value:            value,
		Threshold:        rule.Threshold,
		FirstTriggeredAt: now,
		LastSeenAt:       now,
	}
	e.open[key] = a
	e.byID[a.ID] = a
	metrics.AlertsTriggered.WithLabelValues(string(a.Metric), string(a.Severity)).Inc()
	e.logger.Warn("Alert triggered",
		"connection", in.ConnectionID,
		"rule", rule.ID,
		"severity", a.Severity,
		"value", value,
	)
	return Event{Type: EventTriggered, Alert: *a}
}

// clearPass counts a pass where the condition did not hold. Caller holds mu.
func (e *Engine) clearPass(key string, now time.Time) (Event, bool) {
	a, ok := e.open[key]
	if !ok {
		return Event{}, false
	}
	e.clear[key]++
	if e.clear[key] < e.debounce {
		return Event{}, false
	}
	delete(e.clear, key)
	e.resolve(key, a, now)
	return Event{Type: EventResolved, Alert: *a}, true
}

// resolve closes an open alert. Caller holds mu.
func (e *Engine) resolve(key string, a *domain.Alert, now time.Time) {
	resolvedAt := now
	a.AutoResolved = true
	a.ResolvedAt = &resolvedAt
	delete(e.open, key)

	e.resolved = append(e.resolved, a)
	if len(e.resolved) > resolvedHistory {
		drop := e.resolved[0]
		e.resolved = e.resolved[1:]
		delete(e.byID, drop.ID)
	}
	e.logger.Info("Alert resolved", "connection", a.ConnectionID, "rule", a.RuleID)
}

// ForgetConnection resolves every open alert of a removed connection.
func (e *Engine) ForgetConnection(ctx context.Context, connectionID string) {
	now := e.now()

	e.mu.Lock()
	var closed []domain.Alert
	for key, a := range e.open {
		if a.ConnectionID != connectionID {
			continue
		}
		delete(e.clear, key)
		e.resolve(key, a, now)
		closed = append(closed, *a)
	}
	e.updateGauge()
	e.mu.Unlock()

	for i := range closed {
		e.persist(ctx, &closed[i])
		if e.notifier != nil {
			e.notifier.Notify(ctx, Event{Type: EventResolved, Alert: closed[i]})
		}
	}
}

// Acknowledge marks an alert as seen. It stays active but leaves the count.
func (e *Engine) Acknowledge(ctx context.Context, id string) (domain.Alert, error) {
	return e.mark(ctx, id, func(a *domain.Alert) { a.Acknowledged = true })
}

// Dismiss hides an alert. It keeps its (connection, rule) slot until it
// auto-resolves, so a still-firing condition does not raise a duplicate.
func (e *Engine) Dismiss(ctx context.Context, id string) (domain.Alert, error) {
	return e.mark(ctx, id, func(a *domain.Alert) { a.Dismissed = true })
}

func (e *Engine) mark(ctx context.Context, id string, fn func(*domain.Alert)) (domain.Alert, error) {
	e.mu.Lock()
	a, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return domain.Alert{}, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	fn(a)
	out := *a
	e.updateGauge()
	e.mu.Unlock()

	e.persist(ctx, &out)
	return out, nil
}

// Get returns one alert by id.
func (e *Engine) Get(id string) (domain.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byID[id]
	if !ok {
		return domain.Alert{}, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	return *a, nil
}

// Active returns open, non-dismissed alerts ordered by first trigger time.
func (e *Engine) Active() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

func (e *Engine) activeLocked() []domain.Alert {
	out := make([]domain.Alert, 0, len(e.open))
	for _, a := range e.open {
		if a.Dismissed {
			continue
		}
		out = append(out, *a)
	}
	sortAlerts(out)
	return out
}

// ActiveCount is the number of active alerts not yet acknowledged.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCountLocked()
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, a := range e.open {
		if !a.Dismissed && !a.Acknowledged {
			n++
		}
	}
	return n
}

// All returns open and recently resolved alerts, dismissed ones included.
func (e *Engine) All() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Alert, 0, len(e.byID))
	for _, a := range e.byID {
		out = append(out, *a)
	}
	sortAlerts(out)
	return out
}

func sortAlerts(alerts []domain.Alert) {
	slices.SortFunc(alerts, func(x, y domain.Alert) int {
		if c := x.FirstTriggeredAt.Compare(y.FirstTriggeredAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
}

// updateGauge must run with mu held.
func (e *Engine) updateGauge() {
	metrics.AlertsActive.Set(float64(e.activeCountLocked()))
}

func (e *Engine) persist(ctx context.Context, a *domain.Alert) {
	if e.repo == nil {
		return
	}
	if err := e.repo.Upsert(ctx, a); err != nil {
		e.logger.Error("Failed to persist alert", "alert", a.ID, "error", err)
	}
}
