// Package poller probes every registered connection on its interval and
// commits the results as one batch.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/core/status"
	"github.com/vietddude/apiwatch/internal/infra/probe"
	"github.com/vietddude/apiwatch/internal/infra/secrets"
	"github.com/vietddude/apiwatch/internal/infra/storage"
	"github.com/vietddude/apiwatch/internal/metrics"
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultTickInterval  = time.Second
	DefaultTimeout       = 10 * time.Second
	DefaultConcurrency   = 10
	DefaultWarnThreshold = time.Second
)

// Config holds poller settings.
type Config struct {
	// Interval is the poll interval of connections without an override.
	Interval time.Duration `yaml:"interval"`
	// TickInterval is how often due connections are collected.
	TickInterval  time.Duration `yaml:"tick_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	Concurrency   int           `yaml:"concurrency"`
	WarnThreshold time.Duration `yaml:"warn_threshold"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = DefaultWarnThreshold
	}
	return c
}

// Connections is the part of the registry the poller drives.
type Connections interface {
	List() []domain.APIConnection
	Get(id string) (domain.APIConnection, error)
	SetStatus(id string, to domain.ConnectionStatus, reason string) (domain.APIConnection, error)
	ApplyObservation(ctx context.Context, obs domain.Observation, settled domain.ConnectionStatus) (domain.APIConnection, error)
}

// RateRecorder counts requests against a connection's quota.
type RateRecorder interface {
	RecordRequest(ctx context.Context, connectionID string, cost int) (domain.RateLimitState, bool)
}

// TestLocker guards manual tests across instances.
type TestLocker interface {
	AcquireTestLock(ctx context.Context, connectionID string, ttl time.Duration) (bool, error)
	ReleaseTestLock(ctx context.Context, connectionID string) error
}

// Batch is the committed outcome of one pass.
type Batch struct {
	StartedAt    time.Time
	Manual       bool
	Observations []domain.Observation
}

// ConnectionIDs returns the ids in the batch in probe order.
func (b Batch) ConnectionIDs() []string {
	ids := make([]string, len(b.Observations))
	for i, o := range b.Observations {
		ids[i] = o.ConnectionID
	}
	return ids
}

// Option configures the poller.
type Option func(*Poller)

func WithRateRecorder(r RateRecorder) Option {
	return func(p *Poller) { p.limits = r }
}

func WithSecrets(r secrets.Resolver) Option {
	return func(p *Poller) { p.secrets = r }
}

func WithTestLocker(l TestLocker) Option {
	return func(p *Poller) { p.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

type outcome struct {
	conn    domain.APIConnection
	result  probe.Result
	obs     domain.Observation
	settled domain.ConnectionStatus
	done    bool
}

// Poller schedules probes. Scheduled probes run on a bounded pool; manual
// tests run on the caller's goroutine.
type Poller struct {
	cfg          Config
	conns        Connections
	prober       probe.Prober
	observations storage.ObservationRepository
	limits       RateRecorder
	secrets      secrets.Resolver
	locker       TestLocker
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	lastRun  map[string]time.Time
	inFlight map[string]struct{}
	manual   map[string]struct{}

	hooksMu    sync.RWMutex
	onBatch    []func(ctx context.Context, b Batch)
	onResponse []func(connectionID string, body []byte)

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a poller.
func New(
	cfg Config,
	conns Connections,
	prober probe.Prober,
	observations storage.ObservationRepository,
	opts ...Option,
) *Poller {
	p := &Poller{
		cfg:          cfg.WithDefaults(),
		conns:        conns,
		prober:       prober,
		observations: observations,
		secrets:      secrets.NewEnvResolver(),
		now:          time.Now,
		logger:       slog.Default(),
		lastRun:      make(map[string]time.Time),
		inFlight:     make(map[string]struct{}),
		manual:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnBatch registers a hook called after each batch is committed.
func (p *Poller) OnBatch(fn func(ctx context.Context, b Batch)) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.onBatch = append(p.onBatch, fn)
}

// OnResponse registers a hook receiving the body of successful probes.
func (p *Poller) OnResponse(fn func(connectionID string, body []byte)) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.onResponse = append(p.onResponse, fn)
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poller already running")
	}
	defer p.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()
	defer close(done)
	defer cancel()

	p.logger.Info("Poller started",
		"interval", p.cfg.Interval,
		"timeout", p.cfg.Timeout,
		"concurrency", p.cfg.Concurrency,
	)

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := p.Tick(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Poll batch failed", "error", err)
		}
		select {
		case <-runCtx.Done():
			p.logger.Info("Poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels in-flight probes and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Forget drops scheduling state of a removed connection.
func (p *Poller) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lastRun, id)
}

// Tick probes every due connection once and commits the batch. A cancelled
// batch is discarded.
func (p *Poller) Tick(ctx context.Context) (Batch, error) {
	started := p.now()
	due := p.collectDue(started)
	if len(due) == 0 {
		return Batch{StartedAt: started}, nil
	}
	defer p.release(due)

	outcomes := make([]outcome, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, conn := range due {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Probe panicked", "connection", conn.ID, "panic", r)
				}
			}()
			outcomes[i] = p.probeOne(gctx, conn)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	batch := Batch{StartedAt: started}
	kept := outcomes[:0]
	for _, out := range outcomes {
		if !out.done {
			continue
		}
		// removed while probing
		if _, err := p.conns.Get(out.conn.ID); err != nil {
			continue
		}
		kept = append(kept, out)
		batch.Observations = append(batch.Observations, out.obs)
	}

	if err := p.commit(ctx, batch, kept); err != nil {
		return Batch{}, err
	}
	metrics.PollerBatchDuration.Observe(p.now().Sub(started).Seconds())
	return batch, nil
}

// TestNow probes one connection immediately, outside the pool. The
// observation is recorded either way; failures are returned as
// *domain.ProbeError.
func (p *Poller) TestNow(ctx context.Context, id string) (domain.Observation, error) {
	conn, err := p.conns.Get(id)
	if err != nil {
		return domain.Observation{}, err
	}

	p.mu.Lock()
	if _, busy := p.manual[id]; busy {
		p.mu.Unlock()
		return domain.Observation{}, fmt.Errorf("connection %s: %w", id, domain.ErrAlreadyInProgress)
	}
	p.manual[id] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.manual, id)
		p.mu.Unlock()
	}()

	if p.locker != nil {
		ok, err := p.locker.AcquireTestLock(ctx, id, 2*p.cfg.Timeout)
		switch {
		case err != nil:
			p.logger.Warn("Test lock unavailable, continuing locally", "connection", id, "error", err)
		case !ok:
			return domain.Observation{}, fmt.Errorf("connection %s: %w", id, domain.ErrAlreadyInProgress)
		default:
			defer p.locker.ReleaseTestLock(context.WithoutCancel(ctx), id)
		}
	}

	if _, err := p.conns.SetStatus(id, domain.StatusTesting, "manual test"); err != nil {
		p.logger.Warn("Failed to mark connection testing", "connection", id, "error", err)
	}

	out := p.probeOne(ctx, conn)
	batch := Batch{StartedAt: out.obs.Timestamp, Manual: true, Observations: []domain.Observation{out.obs}}
	if err := p.commit(context.WithoutCancel(ctx), batch, []outcome{out}); err != nil {
		return out.obs, err
	}

	if !out.obs.Success {
		return out.obs, &domain.ProbeError{
			ConnectionID: id,
			Kind:         out.obs.ErrorKind,
			Message:      out.obs.Error(),
			Observation:  out.obs,
		}
	}
	return out.obs, nil
}

// collectDue marks and returns the connections whose interval has elapsed.
func (p *Poller) collectDue(now time.Time) []domain.APIConnection {
	conns := p.conns.List()

	p.mu.Lock()
	defer p.mu.Unlock()

	var due []domain.APIConnection
	for _, c := range conns {
		if _, ok := p.inFlight[c.ID]; ok {
			continue
		}
		if _, ok := p.manual[c.ID]; ok {
			continue
		}
		interval := c.PollInterval
		if interval <= 0 {
			interval = p.cfg.Interval
		}
		if last, ok := p.lastRun[c.ID]; ok && now.Sub(last) < interval {
			continue
		}
		p.lastRun[c.ID] = now
		p.inFlight[c.ID] = struct{}{}
		due = append(due, c)
	}
	return due
}

func (p *Poller) release(conns []domain.APIConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range conns {
		delete(p.inFlight, c.ID)
	}
}

func (p *Poller) probeOne(ctx context.Context, conn domain.APIConnection) outcome {
	at := p.now()

	var result probe.Result
	credential, err := p.resolveCredential(ctx, conn)
	if err != nil {
		result = probe.Failure(err, 0)
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		result = p.prober.Probe(probeCtx, conn, credential)
		cancel()
	}

	obs := probe.ToObservation(conn.ID, at, result)
	return outcome{
		conn:    conn,
		result:  result,
		obs:     obs,
		settled: status.Resolve(obs, p.cfg.WarnThreshold),
		done:    true,
	}
}

func (p *Poller) resolveCredential(ctx context.Context, conn domain.APIConnection) (string, error) {
	if !conn.HasCredential() {
		return "", nil
	}
	if p.secrets == nil {
		return "", fmt.Errorf("%w: no credential resolver configured", domain.ErrConfig)
	}
	return p.secrets.Resolve(ctx, conn.CredentialRef)
}

// commit appends the observations, then applies each outcome and runs hooks.
func (p *Poller) commit(ctx context.Context, batch Batch, outcomes []outcome) error {
	if len(batch.Observations) > 0 {
		if err := p.observations.Append(ctx, batch.Observations...); err != nil {
			return fmt.Errorf("append observations: %w", err)
		}
	}

	for _, out := range outcomes {
		p.apply(ctx, out)
	}

	p.hooksMu.RLock()
	hooks := p.onBatch
	p.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, batch)
	}
	return nil
}

func (p *Poller) apply(ctx context.Context, out outcome) {
	id := out.conn.ID
	obs := out.obs

	if _, err := p.conns.ApplyObservation(ctx, obs, out.settled); err != nil {
		p.logger.Warn("Failed to apply observation", "connection", id, "error", err)
	}

	// config failures never reached the provider
	if p.limits != nil && obs.ErrorKind != domain.ErrorKindConfig {
		p.limits.RecordRequest(ctx, id, 1)
	}

	result := "success"
	if !obs.Success {
		result = "failure"
		metrics.ProbeErrorsTotal.WithLabelValues(id, string(obs.ErrorKind)).Inc()
		p.logger.Debug("Probe failed",
			"connection", id,
			"kind", obs.ErrorKind,
			"error", obs.Error(),
		)
	} else {
		metrics.ProbeLatency.WithLabelValues(id).Observe(obs.Latency().Seconds())
	}
	metrics.ProbesTotal.WithLabelValues(id, string(out.conn.Kind), result).Inc()

	if obs.Success && len(out.result.Body) > 0 {
		p.hooksMu.RLock()
		hooks := p.onResponse
		p.hooksMu.RUnlock()
		for _, fn := range hooks {
			fn(id, out.result.Body)
		}
	}
}
