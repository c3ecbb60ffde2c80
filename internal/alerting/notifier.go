package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/metrics"
)

const (
	defaultHTTPTimeout  = 4 * time.Second
	defaultDedupeWindow = 5 * time.Minute
	DefaultQueueSize    = 256
)

// Notifiers fans one event out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, event Event) {
	for _, n := range ns {
		n.Notify(ctx, event)
	}
}

// Dispatcher hands events to a notifier on a single background goroutine,
// so Evaluate never waits on delivery. Events arriving while the queue is
// full are dropped.
type Dispatcher struct {
	next   Notifier
	queue  chan Event
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(next Notifier, size int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{next: next, queue: make(chan Event, size), logger: logger}
}

// Notify queues the event without blocking.
func (d *Dispatcher) Notify(_ context.Context, event Event) {
	select {
	case d.queue <- event:
	default:
		metrics.AlertNotificationsDropped.Inc()
		d.logger.Warn("Alert queue full, dropping event",
			"type", event.Type,
			"alert", event.Alert.ID,
			"connection", event.Alert.ConnectionID,
		)
	}
}

// Start runs delivery until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-d.queue:
				d.next.Notify(ctx, event)
			}
		}
	}(d.done)
}

// Stop cancels in-flight delivery and waits for the sender to exit. Queued
// events are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// WebhookNotifier posts triggered and resolved alerts to a URL. Repeated
// events for the same (connection, rule) inside the dedupe window are dropped.
type WebhookNotifier struct {
	url          string
	dedupeWindow time.Duration
	client       *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	recentSent map[string]time.Time
}

type outboundAlert struct {
	Event        string  `json:"event"`
	AlertID      string  `json:"alertId"`
	ConnectionID string  `json:"connectionId"`
	Rule         string  `json:"rule"`
	Metric       string  `json:"metric"`
	Severity     string  `json:"severity"`
	Message      string  `json:"message"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
	Timestamp    string  `json:"timestamp"`
	DedupeKey    string  `json:"dedupeKey"`
}

// NewWebhookNotifier creates a notifier. A zero dedupe window uses the
// default; a negative one disables dedupe.
func NewWebhookNotifier(url string, dedupeWindow time.Duration, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if dedupeWindow == 0 {
		dedupeWindow = defaultDedupeWindow
	}
	return &WebhookNotifier{
		url:          url,
		dedupeWindow: dedupeWindow,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		logger:       logger,
		now:          time.Now,
		recentSent:   make(map[string]time.Time),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	if event.Type == EventUpdated {
		return
	}

	a := event.Alert
	alert := outboundAlert{
		Event:        string(event.Type),
		AlertID:      a.ID,
		ConnectionID: a.ConnectionID,
		Rule:         a.RuleID,
		Metric:       string(a.Metric),
		Severity:     string(a.Severity),
		Message:      a.Message,
		Value:        a.Value,
		Threshold:    a.Threshold,
		Timestamp:    n.now().UTC().Format(time.RFC3339),
		DedupeKey:    fmt.Sprintf("%s:%s:%s", event.Type, a.ConnectionID, a.RuleID),
	}

	if n.dedupeWindow > 0 && n.shouldSuppress(alert.DedupeKey) {
		return
	}
	if err := n.send(ctx, alert); err != nil {
		n.logger.Error("webhook alert send failed", "error", err, "event", alert.Event, "connection", a.ConnectionID)
	}
}

func (n *WebhookNotifier) shouldSuppress(key string) bool {
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()

	for k, ts := range n.recentSent {
		if now.Sub(ts) > n.dedupeWindow {
			delete(n.recentSent, k)
		}
	}

	if ts, ok := n.recentSent[key]; ok && now.Sub(ts) <= n.dedupeWindow {
		return true
	}
	n.recentSent[key] = now
	return false
}

func (n *WebhookNotifier) send(ctx context.Context, alert outboundAlert) error {
	payload := map[string]any{
		"source": "apiwatch",
		"alert":  alert,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Publisher sends a message on a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusNotifier publishes every alert event on <prefix>.<event type>.
type BusNotifier struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

func NewBusNotifier(pub Publisher, prefix string, logger *slog.Logger) *BusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "apiwatch.alerts"
	}
	return &BusNotifier{pub: pub, prefix: prefix, logger: logger}
}

func (n *BusNotifier) Notify(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("marshal alert event failed", "error", err)
		return
	}
	subject := n.prefix + "." + string(event.Type)
	if err := n.pub.Publish(subject, data); err != nil {
		n.logger.Error("bus alert publish failed", "error", err, "subject", subject)
	}
}
