package control

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/alerting"
	"github.com/vietddude/apiwatch/internal/api"
	"github.com/vietddude/apiwatch/internal/core/config"
	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/core/worker"
	"github.com/vietddude/apiwatch/internal/health"
	"github.com/vietddude/apiwatch/internal/infra/bus"
	"github.com/vietddude/apiwatch/internal/infra/export"
	"github.com/vietddude/apiwatch/internal/infra/probe"
	redisclient "github.com/vietddude/apiwatch/internal/infra/redis"
	"github.com/vietddude/apiwatch/internal/infra/secrets"
	"github.com/vietddude/apiwatch/internal/infra/storage"
	"github.com/vietddude/apiwatch/internal/infra/storage/memory"
	"github.com/vietddude/apiwatch/internal/infra/storage/postgres"
	"github.com/vietddude/apiwatch/internal/mapping"
	"github.com/vietddude/apiwatch/internal/metrics"
	"github.com/vietddude/apiwatch/internal/poller"
	"github.com/vietddude/apiwatch/internal/ratelimit"
	"github.com/vietddude/apiwatch/internal/registry"
)

// Service is the main application struct. It owns every component and the
// hooks that chain them: poll batch, health recompute, alert evaluation, feed.
type Service struct {
	cfg *config.AppConfig

	registry     *registry.Registry
	poller       *poller.Poller
	aggregator   *health.Aggregator
	engine       *alerting.Engine
	dispatcher   *alerting.Dispatcher
	tracker      *ratelimit.Tracker
	throttle     *probe.ThrottleMonitor
	mappings     *mapping.Manager
	observations storage.ObservationRepository
	sink         export.Sink
	pruner       *worker.Pruner

	apiServer    *api.Server
	healthServer *health.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	publisher   *bus.Publisher

	now func() time.Time
	log *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Service.
type Option func(*options)

type options struct {
	prober probe.Prober
	now    func() time.Time
}

// WithProber replaces the transport probes.
func WithProber(p probe.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithClock overrides time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewService creates a Service with all dependencies initialized.
func NewService(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Service, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		cfg:      cfg,
		mappings: mapping.NewManager(),
		throttle: probe.NewThrottleMonitor(),
		now:      o.now,
		log:      slog.Default(),
	}

	// 1. Storage
	var (
		connRepo  storage.ConnectionRepository
		alertRepo storage.AlertRepository
	)
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		s.db = db
		s.observations = postgres.NewObservationRepo(db)
		connRepo = postgres.NewConnectionRepo(db)
		alertRepo = postgres.NewAlertRepo(db)
		s.log.Info("Using PostgreSQL storage")
	} else {
		s.observations = memory.NewObservationRepo(memory.DefaultPartitionCap)
		connRepo = memory.NewConnectionRepo()
		alertRepo = memory.NewAlertRepo()
		s.log.Info("Using Memory storage")
	}

	// 2. Redis (optional, shared counters and test locks)
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			s.log.Warn("Failed to connect to Redis, using local counters", "error", err)
		} else {
			s.redisClient = client
		}
	}

	// 3. Credentials
	resolver, err := buildResolver(cfg.Secrets)
	if err != nil {
		s.close()
		return nil, err
	}

	// 4. Transports
	prober := o.prober
	if prober == nil {
		prober = probe.NewMux().
			Handle(domain.TransportREST, probe.NewHTTPProber(cfg.Poller.Timeout, s.throttle)).
			Handle(domain.TransportWebSocket, probe.NewWSProber(cfg.Poller.Timeout)).
			Handle(domain.TransportGRPC, probe.NewGRPCProber())
	}

	// 5. Rate limits
	trackerOpts := []ratelimit.Option{ratelimit.WithClock(s.now)}
	if s.redisClient != nil {
		trackerOpts = append(trackerOpts, ratelimit.WithStore(s.redisClient))
	}
	s.tracker = ratelimit.NewTracker(trackerOpts...)

	// 6. Registry
	s.registry = registry.New(registry.WithRepository(connRepo), registry.WithClock(s.now))

	// 7. Health and alerts
	s.aggregator = health.NewAggregator(s.observations, cfg.Health, s.now)

	notifiers, err := s.buildNotifiers(cfg.Alerts)
	if err != nil {
		s.close()
		return nil, err
	}
	engineOpts := []alerting.Option{
		alerting.WithRepository(alertRepo),
		alerting.WithDebounce(cfg.Alerts.DebouncePasses),
		alerting.WithClock(s.now),
	}
	if len(notifiers) > 0 {
		s.dispatcher = alerting.NewDispatcher(notifiers, alerting.DefaultQueueSize, s.log)
		engineOpts = append(engineOpts, alerting.WithNotifier(s.dispatcher))
	}
	s.engine, err = alerting.NewEngine(cfg.Alerts.Rules, engineOpts...)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to init alert engine: %w", err)
	}

	// 8. Poller
	pollerOpts := []poller.Option{
		poller.WithRateRecorder(s.tracker),
		poller.WithSecrets(resolver),
		poller.WithClock(s.now),
	}
	if s.redisClient != nil {
		pollerOpts = append(pollerOpts, poller.WithTestLocker(s.redisClient))
	}
	s.poller = poller.New(cfg.Poller, s.registry, prober, s.observations, pollerOpts...)

	// 9. Exports and retention
	if cfg.Export.Dir != "" {
		sink, err := export.NewFileSink(cfg.Export.Dir)
		if err != nil {
			s.close()
			return nil, err
		}
		s.sink = sink
		s.log.Info("Export sink ready", "dir", sink.Dir())
	}
	if cfg.Retention.Period > 0 {
		s.pruner = worker.NewPruner(cfg.Retention.Period, cfg.Retention.Interval, s.observations)
	}

	// 10. Surfaces
	s.apiServer = api.NewServer(api.Deps{
		Registry:     s.registry,
		Poller:       s.poller,
		Health:       s.aggregator,
		Alerts:       s.engine,
		RateLimits:   s.tracker,
		Mappings:     s.mappings,
		Observations: s.observations,
		Reporter:     s,
	}, cfg.Server.Port, s.log)
	s.healthServer = health.NewServer(s.aggregator, cfg.Server.MetricsPort)

	s.wire()

	// 11. Rehydrate, then seed
	if err := s.registry.Load(ctx); err != nil {
		s.close()
		return nil, err
	}
	if err := s.engine.Load(ctx); err != nil {
		s.log.Warn("Failed to load alerts", "error", err)
	}
	if err := s.seed(ctx, cfg.Connections); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func buildResolver(cfg config.SecretsConfig) (secrets.Resolver, error) {
	chain := secrets.NewChainResolver(nil).Register("env", secrets.NewEnvResolver())
	if cfg.Key == "" {
		return chain, nil
	}
	key, err := base64.StdEncoding.DecodeString(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("secrets.key must be base64: %w", err)
	}
	enc, err := secrets.NewEncryptedResolver(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init credential store: %w", err)
	}
	return chain.Register("enc", enc), nil
}

func (s *Service) buildNotifiers(cfg config.AlertsConfig) (alerting.Notifiers, error) {
	var notifiers alerting.Notifiers
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.DedupeWindow, s.log))
	}
	if cfg.NATSURL != "" {
		pub, err := bus.NewPublisher(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		s.publisher = pub
		notifiers = append(notifiers, alerting.NewBusNotifier(pub, cfg.NATSSubject, s.log))
	}
	return notifiers, nil
}

// wire registers the hooks between components.
func (s *Service) wire() {
	s.registry.OnChange(func(conn domain.APIConnection) {
		if conn.RateLimit == nil {
			s.tracker.Configure(conn.ID, 0, 0)
			return
		}
		s.tracker.Configure(conn.ID, conn.RateLimit.Limit, conn.RateLimit.Window)
	})

	s.registry.OnRemove(func(id string) {
		ctx := context.Background()
		s.poller.Forget(id)
		s.aggregator.Forget(id)
		s.engine.ForgetConnection(ctx, id)
		s.tracker.Remove(ctx, id)
		s.throttle.Forget(id)
		s.mappings.Forget(id)
		metrics.Forget(id)
		if err := s.observations.DeleteConnection(ctx, id); err != nil {
			s.log.Warn("Failed to drop observations", "connection", id, "error", err)
		}
	})

	s.poller.OnResponse(func(id string, body []byte) {
		if err := s.mappings.Observe(id, body); err != nil {
			s.log.Debug("Response is not a JSON document", "connection", id, "error", err)
		}
	})

	s.poller.OnBatch(s.afterBatch)
}

// afterBatch runs once a batch is committed. Health is recomputed for the
// probed connections, then every connection is evaluated so absent data
// counts toward auto-resolve.
func (s *Service) afterBatch(ctx context.Context, b poller.Batch) {
	if _, err := s.aggregator.Recompute(ctx, b.ConnectionIDs()); err != nil {
		s.log.Error("Health recompute failed", "error", err)
		return
	}

	conns := s.registry.List()
	inputs := make([]alerting.Input, 0, len(conns))
	for _, c := range conns {
		in := alerting.Input{ConnectionID: c.ID, Name: c.Name}
		if snap, ok := s.aggregator.Snapshot(c.ID); ok {
			in.Health = &snap
		}
		if st, ok := s.tracker.Get(c.ID); ok {
			in.RateLimit = &st
		}
		inputs = append(inputs, in)
	}

	events := s.engine.Evaluate(ctx, inputs)

	hub := s.apiServer.Hub()
	hub.Publish(api.MessageBatch, batchFeed{
		StartedAt:    b.StartedAt,
		Manual:       b.Manual,
		Observations: b.Observations,
		Snapshots:    s.aggregator.SnapshotAll(),
		Overall:      s.aggregator.Overall(),
		ActiveAlerts: s.engine.ActiveCount(),
	})
	for _, ev := range events {
		hub.Publish(api.MessageAlert, ev)
	}
}

type batchFeed struct {
	StartedAt    time.Time               `json:"startedAt"`
	Manual       bool                    `json:"manual"`
	Observations []domain.Observation    `json:"observations"`
	Snapshots    []domain.HealthSnapshot `json:"snapshots"`
	Overall      health.SystemHealth     `json:"overall"`
	ActiveAlerts int                     `json:"activeAlerts"`
}

// seed adds configured connections whose name is not registered yet.
func (s *Service) seed(ctx context.Context, specs []domain.ConnectionSpec) error {
	if len(specs) == 0 {
		return nil
	}
	existing := make(map[string]struct{})
	for _, c := range s.registry.List() {
		existing[c.Name] = struct{}{}
	}
	for i, spec := range specs {
		if _, ok := existing[spec.Name]; ok {
			continue
		}
		conn, err := s.registry.Add(ctx, spec)
		if err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
		existing[conn.Name] = struct{}{}
	}
	return nil
}

// Start starts the poller, servers and background workers. It does not block;
// everything runs until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.dispatcher != nil {
		s.dispatcher.Start(ctx)
	}

	s.wg.Go(func() {
		if err := s.poller.Start(ctx); err != nil {
			s.log.Error("Poller failed", "error", err)
		}
	})

	s.wg.Go(func() {
		if err := s.apiServer.Run(ctx); err != nil {
			s.log.Error("API server failed", "error", err)
		}
	})

	s.wg.Go(func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	})

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	if s.pruner != nil {
		s.log.Info("Starting pruner", "retention", s.cfg.Retention.Period)
		s.wg.Go(func() { s.pruner.Start(ctx) })
	}

	s.log.Info("Service started",
		"connections", s.registry.Len(),
		"api_port", s.cfg.Server.Port,
		"metrics_port", s.cfg.Server.MetricsPort,
	)
	return nil
}

// Stop cancels the background work, waits for in-flight probes and servers
// to finish within ctx, and releases resources.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")
	if s.cancel != nil {
		s.cancel()
	}
	s.poller.Stop()
	err := s.healthServer.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for workers: %w", ctx.Err()))
	}

	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	s.close()
	return err
}

func (s *Service) close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
}

// Accessors for the CLI and tests.

func (s *Service) Registry() *registry.Registry   { return s.registry }
func (s *Service) Poller() *poller.Poller         { return s.poller }
func (s *Service) Health() *health.Aggregator     { return s.aggregator }
func (s *Service) Alerts() *alerting.Engine       { return s.engine }
func (s *Service) RateLimits() *ratelimit.Tracker { return s.tracker }
func (s *Service) Mappings() *mapping.Manager     { return s.mappings }
func (s *Service) API() *api.Server               { return s.apiServer }
