package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/infra/storage/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func ms(v float64) *float64 { return &v }

func snapshot(id string, errRate float64, latency *float64) *domain.HealthSnapshot {
	return &domain.HealthSnapshot{
		ConnectionID:        id,
		ErrorRatePercent:    errRate,
		RollingAvgLatencyMs: latency,
		RequestCount:        10,
	}
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e, err := NewEngine(DefaultRules(), append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, clock
}

// =============================================================================
// Rules
// =============================================================================

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		value, threshold float64
		want             domain.Severity
	}{
		{1100, 1000, domain.SeverityLow},
		{1200, 1000, domain.SeverityLow},
		{1300, 1000, domain.SeverityMedium},
		{2000, 1000, domain.SeverityMedium},
		{2001, 1000, domain.SeverityHigh},
		{100, 5, domain.SeverityHigh},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.value, tt.threshold); got != tt.want {
			t.Errorf("SeverityFor(%v, %v): expected %s, got %s", tt.value, tt.threshold, tt.want, got)
		}
	}
}

func TestValidateRules(t *testing.T) {
	rules, err := ValidateRules([]domain.AlertRule{{Metric: domain.MetricLatency, Threshold: 500}})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if rules[0].ID != "latency" || rules[0].Comparison != domain.ComparisonGreaterThan {
		t.Errorf("expected defaults filled, got %+v", rules[0])
	}

	bad := [][]domain.AlertRule{
		{{Metric: "cpu", Threshold: 1}},
		{{Metric: domain.MetricLatency, Threshold: -1}},
		{{Metric: domain.MetricLatency, Comparison: "lessThan"}},
		{{ID: "x", Metric: domain.MetricLatency}, {ID: "x", Metric: domain.MetricErrorRate}},
	}
	for i, set := range bad {
		if _, err := ValidateRules(set); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

// =============================================================================
// Evaluate
// =============================================================================

func TestEvaluate_TriggerAndDedup(t *testing.T) {
	e, clock := newEngine(t)
	ctx := context.Background()

	in := []Input{{ConnectionID: "c1", Name: "Orders", Health: snapshot("c1", 100, nil)}}
	events := e.Evaluate(ctx, in)
	if len(events) != 1 || events[0].Type != EventTriggered {
		t.Fatalf("expected one triggered event, got %+v", events)
	}
	first := events[0].Alert
	if first.Severity != domain.SeverityHigh || first.Metric != domain.MetricErrorRate {
		t.Errorf("unexpected alert %+v", first)
	}

	clock.Advance(30 * time.Second)
	events = e.Evaluate(ctx, in)
	if len(events) != 1 || events[0].Type != EventUpdated {
		t.Fatalf("expected update, got %+v", events)
	}
	if events[0].Alert.ID != first.ID {
		t.Error("expected same alert to be updated")
	}
	if !events[0].Alert.LastSeenAt.After(first.LastSeenAt) {
		t.Error("expected LastSeenAt to advance")
	}

	if got := len(e.Active()); got != 1 {
		t.Errorf("expected one active alert, got %d", got)
	}
}

func TestEvaluate_NilDataDoesNotHold(t *testing.T) {
	e, _ := newEngine(t)
	events := e.Evaluate(context.Background(), []Input{{ConnectionID: "c1", Health: snapshot("c1", 0, nil)}})
	if len(events) != 0 {
		t.Errorf("expected no events for nil latency, got %+v", events)
	}
}

func TestEvaluate_AutoResolveAfterDebounce(t *testing.T) {
	e, clock := newEngine(t)
	ctx := context.Background()

	e.Evaluate(ctx, []Input{{ConnectionID: "c1", Health: snapshot("c1", 0, ms(1500))}})
	healthy := []Input{{ConnectionID: "c1", Health: snapshot("c1", 0, ms(100))}}

	for pass := 1; pass < DefaultDebouncePasses; pass++ {
		clock.Advance(time.Second)
		if events := e.Evaluate(ctx, healthy); len(events) != 0 {
			t.Fatalf("pass %d: expected no resolution yet, got %+v", pass, events)
		}
	}

	clock.Advance(time.Second)
	events := e.Evaluate(ctx, healthy)
	if len(events) != 1 || events[0].Type != EventResolved {
		t.Fatalf("expected resolution, got %+v", events)
	}
	resolved := events[0].Alert
	if !resolved.AutoResolved || resolved.ResolvedAt == nil {
		t.Errorf("expected auto-resolved alert, got %+v", resolved)
	}
	if len(e.Active()) != 0 {
		t.Error("expected no active alerts")
	}
	if len(e.All()) != 1 {
		t.Error("expected resolved alert kept in All")
	}
}

func TestEvaluate_FlapResetsDebounce(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	bad := []Input{{ConnectionID: "c1", Health: snapshot("c1", 50, nil)}}
	good := []Input{{ConnectionID: "c1", Health: snapshot("c1", 0, nil)}}

	e.Evaluate(ctx, bad)
	e.Evaluate(ctx, good)
	e.Evaluate(ctx, good)
	e.Evaluate(ctx, bad)
	e.Evaluate(ctx, good)
	e.Evaluate(ctx, good)

	if len(e.Active()) != 1 {
		t.Error("expected alert still active after interrupted clear streak")
	}
}

func TestEvaluate_RateLimitUsage(t *testing.T) {
	e, _ := newEngine(t)
	state := &domain.RateLimitState{ConnectionID: "c1", Used: 90, Limit: 100}
	events := e.Evaluate(context.Background(), []Input{{ConnectionID: "c1", RateLimit: state}})
	if len(events) != 1 || events[0].Alert.Metric != domain.MetricRateLimitUsage {
		t.Fatalf("expected rate-limit alert, got %+v", events)
	}
	if events[0].Alert.Severity != domain.SeverityLow {
		t.Errorf("expected low severity, got %s", events[0].Alert.Severity)
	}
}

// =============================================================================
// Acknowledge / Dismiss
// =============================================================================

func TestAcknowledgeAndDismiss(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	events := e.Evaluate(ctx, []Input{
		{ConnectionID: "c1", Health: snapshot("c1", 100, nil)},
		{ConnectionID: "c2", Health: snapshot("c2", 0, ms(5000))},
	})
	if len(events) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(events))
	}
	if e.ActiveCount() != 2 {
		t.Errorf("expected count 2, got %d", e.ActiveCount())
	}

	ackID := events[0].Alert.ID
	if _, err := e.Acknowledge(ctx, ackID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if e.ActiveCount() != 1 {
		t.Errorf("expected acknowledged alert excluded from count, got %d", e.ActiveCount())
	}
	if len(e.Active()) != 2 {
		t.Error("expected acknowledged alert still listed")
	}

	dismissID := events[1].Alert.ID
	if _, err := e.Dismiss(ctx, dismissID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if len(e.Active()) != 1 {
		t.Error("expected dismissed alert hidden")
	}

	// Still firing: the dismissed alert keeps its slot, no duplicate.
	events = e.Evaluate(ctx, []Input{{ConnectionID: "c2", Health: snapshot("c2", 0, ms(5000))}})
	for _, ev := range events {
		if ev.Type == EventTriggered {
			t.Errorf("expected no new alert for dismissed slot, got %+v", ev)
		}
	}

	if _, err := e.Dismiss(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestForgetConnection(t *testing.T) {
	rec := &recordingNotifier{}
	e, _ := newEngine(t, WithNotifier(rec))
	ctx := context.Background()
	e.Evaluate(ctx, []Input{{ConnectionID: "c1", Health: snapshot("c1", 100, ms(5000))}})

	e.ForgetConnection(ctx, "c1")
	if len(e.Active()) != 0 {
		t.Error("expected alerts of removed connection resolved")
	}
	resolved := 0
	for _, ev := range rec.events {
		if ev.Type == EventResolved {
			resolved++
		}
	}
	if resolved != 2 {
		t.Errorf("expected 2 resolved notifications, got %d", resolved)
	}
}

func TestEngine_PersistAndLoad(t *testing.T) {
	repo := memory.NewAlertRepo()
	e, _ := newEngine(t, WithRepository(repo))
	ctx := context.Background()
	e.Evaluate(ctx, []Input{{ConnectionID: "c1", Health: snapshot("c1", 100, nil)}})

	restored, _ := newEngine(t, WithRepository(repo))
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(restored.Active()) != 1 {
		t.Fatalf("expected restored alert, got %d", len(restored.Active()))
	}

	// Restored alert is updated, not duplicated.
	events := restored.Evaluate(ctx, []Input{{ConnectionID: "c1", Health: snapshot("c1", 100, nil)}})
	if len(events) != 1 || events[0].Type != EventUpdated {
		t.Errorf("expected update of restored alert, got %+v", events)
	}
}

// =============================================================================
// Webhook
// =============================================================================

func TestWebhookNotifier_Dedupe(t *testing.T) {
	var mu sync.Mutex
	var received []outboundAlert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Alert outboundAlert `json:"alert"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		received = append(received, payload.Alert)
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Minute, nil)
	ctx := context.Background()
	alert := domain.Alert{ID: "a1", ConnectionID: "c1", RuleID: "high-error-rate", Severity: domain.SeverityHigh}

	n.Notify(ctx, Event{Type: EventTriggered, Alert: alert})
	n.Notify(ctx, Event{Type: EventTriggered, Alert: alert})
	n.Notify(ctx, Event{Type: EventUpdated, Alert: alert})
	n.Notify(ctx, Event{Type: EventResolved, Alert: alert})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(received))
	}
	if received[0].Event != "triggered" || received[1].Event != "resolved" {
		t.Errorf("unexpected events %+v", received)
	}
}

type capturePublisher struct {
	subjects []string
	payloads [][]byte
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestBusNotifier_Subjects(t *testing.T) {
	pub := &capturePublisher{}
	n := NewBusNotifier(pub, "", nil)
	alert := domain.Alert{ID: "a1", ConnectionID: "c1", RuleID: "high-latency"}

	n.Notify(context.Background(), Event{Type: EventTriggered, Alert: alert})
	n.Notify(context.Background(), Event{Type: EventResolved, Alert: alert})

	want := []string{"apiwatch.alerts.triggered", "apiwatch.alerts.resolved"}
	if len(pub.subjects) != len(want) {
		t.Fatalf("expected %v, got %v", want, pub.subjects)
	}
	for i := range want {
		if pub.subjects[i] != want[i] {
			t.Errorf("expected %s, got %s", want[i], pub.subjects[i])
		}
	}

	var ev Event
	if err := json.Unmarshal(pub.payloads[0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Alert.ID != "a1" || ev.Type != EventTriggered {
		t.Errorf("unexpected payload %+v", ev)
	}
}

// =============================================================================
// Dispatcher
// =============================================================================

func TestDispatcher_EvaluateDoesNotWaitOnWebhook(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		mu.Lock()
		delivered++
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(NewWebhookNotifier(srv.URL, -1, nil), 0, nil)
	d.Start(context.Background())
	defer d.Stop()

	e, _ := newEngine(t, WithNotifier(d))
	var in []Input
	for _, id := range []string{"c1", "c2", "c3"} {
		in = append(in, Input{ConnectionID: id, Name: id, Health: snapshot(id, 50, ms(4000))})
	}

	start := time.Now()
	events := e.Evaluate(context.Background(), in)
	elapsed := time.Since(start)

	if len(events) != 6 {
		t.Fatalf("expected 6 triggered events, got %d", len(events))
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("expected Evaluate to return promptly, took %s", elapsed)
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := delivered
		mu.Unlock()
		if n == 6 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected 6 webhook deliveries, got %d", delivered)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 2, nil)

	for _, id := range []string{"a1", "a2", "a3"} {
		d.Notify(context.Background(), Event{Type: EventTriggered, Alert: domain.Alert{ID: id}})
	}

	d.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.events)
		rec.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(rec.events))
	}
	if rec.events[0].Alert.ID != "a1" || rec.events[1].Alert.ID != "a2" {
		t.Errorf("expected a1,a2 in order, got %s,%s", rec.events[0].Alert.ID, rec.events[1].Alert.ID)
	}
}

func TestDispatcher_StopWithoutStart(t *testing.T) {
	d := NewDispatcher(&recordingNotifier{}, 1, nil)
	d.Stop()
}
