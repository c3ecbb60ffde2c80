// Package registry owns the set of monitored API connections.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/core/status"
	"github.com/vietddude/apiwatch/internal/infra/storage"
)

// Registry holds connections in insertion order. Readers always receive copies.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*domain.APIConnection
	order     []string
	histories map[string]*status.History

	repo        storage.ConnectionRepository
	now         func() time.Time
	errorLogCap int
	logger      *slog.Logger

	hookMu   sync.RWMutex
	onRemove []func(id string)
	onChange []func(conn domain.APIConnection)
}

// Option configures a Registry.
type Option func(*Registry)

// WithRepository enables write-through persistence.
func WithRepository(repo storage.ConnectionRepository) Option {
	return func(r *Registry) { r.repo = repo }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithErrorLogCapacity sets the per-connection error log size.
func WithErrorLogCapacity(n int) Option {
	return func(r *Registry) { r.errorLogCap = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		conns:       make(map[string]*domain.APIConnection),
		histories:   make(map[string]*status.History),
		now:         time.Now,
		errorLogCap: domain.DefaultErrorLogCapacity,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnRemove registers a callback run after a connection is removed.
func (r *Registry) OnRemove(fn func(id string)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// OnChange registers a callback run after a connection is added or its spec updated.
func (r *Registry) OnChange(fn func(conn domain.APIConnection)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onChange = append(r.onChange, fn)
}

func (r *Registry) notifyChange(conn domain.APIConnection) {
	r.hookMu.RLock()
	hooks := slices.Clone(r.onChange)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(conn)
	}
}

// Load rehydrates connections from the repository.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load connections: %w", err)
	}

	r.mu.Lock()
	loaded := make([]domain.APIConnection, 0, len(stored))
	for _, c := range stored {
		if _, exists := r.conns[c.ID]; exists {
			continue
		}
		if c.ErrorLog == nil {
			c.ErrorLog = domain.NewErrorLog(r.errorLogCap)
		}
		if c.Status == "" {
			c.Status = domain.StatusUnknown
		}
		r.conns[c.ID] = c
		r.order = append(r.order, c.ID)
		r.histories[c.ID] = status.NewHistory(status.DefaultHistoryLimit)
		loaded = append(loaded, c.Clone())
	}
	r.mu.Unlock()

	for _, c := range loaded {
		r.notifyChange(c)
	}
	r.logger.Info("Loaded connections", "count", len(loaded))
	return nil
}

// Add validates and stores a new connection with status unknown.
func (r *Registry) Add(ctx context.Context, spec domain.ConnectionSpec) (domain.APIConnection, error) {
	spec = normalize(spec)
	if err := Validate(spec); err != nil {
		return domain.APIConnection{}, err
	}

	now := r.now()
	conn := &domain.APIConnection{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		Kind:          spec.Kind,
		Endpoint:      spec.Endpoint,
		Method:        spec.Method,
		Path:          spec.Path,
		CredentialRef: spec.CredentialRef,
		Headers:       append([]domain.KeyValue(nil), spec.Headers...),
		Params:        append([]domain.KeyValue(nil), spec.Params...),
		PollInterval:  spec.PollInterval,
		Status:        domain.StatusUnknown,
		CreatedAt:     now,
		UpdatedAt:     now,
		ErrorLog:      domain.NewErrorLog(r.errorLogCap),
	}
	if spec.RateLimit != nil {
		rl := *spec.RateLimit
		conn.RateLimit = &rl
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.order = append(r.order, conn.ID)
	r.histories[conn.ID] = status.NewHistory(status.DefaultHistoryLimit)
	snapshot := conn.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.notifyChange(snapshot)
	r.logger.Info("Connection added", "connection", snapshot)
	return snapshot, nil
}

// Update merges a patch, re-validates the result and applies it atomically.
func (r *Registry) Update(ctx context.Context, id string, patch domain.ConnectionPatch) (domain.APIConnection, error) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return domain.APIConnection{}, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}

	spec := normalize(applyPatch(specOf(conn), patch))
	if err := Validate(spec); err != nil {
		r.mu.Unlock()
		return domain.APIConnection{}, err
	}

	conn.Name = spec.Name
	conn.Kind = spec.Kind
	conn.Endpoint = spec.Endpoint
	conn.Method = spec.Method
	conn.Path = spec.Path
	conn.CredentialRef = spec.CredentialRef
	conn.Headers = spec.Headers
	conn.Params = spec.Params
	conn.PollInterval = spec.PollInterval
	conn.RateLimit = spec.RateLimit
	conn.UpdatedAt = r.now()
	snapshot := conn.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.notifyChange(snapshot)
	return snapshot, nil
}

// Remove deletes a connection. Removing an unknown id is not an error.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		delete(r.histories, id)
		r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			r.logger.Error("Failed to delete connection", "connection", id, "error", err)
		}
	}

	r.hookMu.RLock()
	hooks := slices.Clone(r.onRemove)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
	r.logger.Info("Connection removed", "connection", id)
	return nil
}

// Get returns a copy of a connection.
func (r *Registry) Get(id string) (domain.APIConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return domain.APIConnection{}, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return conn.Clone(), nil
}

// List returns copies of all connections in insertion order.
func (r *Registry) List() []domain.APIConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.APIConnection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id].Clone())
	}
	return out
}

// Len returns the number of connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetStatus moves a connection to a new status, routing through testing
// when the target isn't directly reachable.
func (r *Registry) SetStatus(id string, to domain.ConnectionStatus, reason string) (domain.APIConnection, error) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return domain.APIConnection{}, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	if err := r.walk(conn, to, reason); err != nil {
		r.mu.Unlock()
		return domain.APIConnection{}, err
	}
	snapshot := conn.Clone()
	r.mu.Unlock()
	return snapshot, nil
}

// ApplyObservation records a probe outcome: status moves to settled, latency
// is refreshed on success and failures are pushed onto the error log.
func (r *Registry) ApplyObservation(
	ctx context.Context,
	obs domain.Observation,
	settled domain.ConnectionStatus,
) (domain.APIConnection, error) {
	r.mu.Lock()
	conn, ok := r.conns[obs.ConnectionID]
	if !ok {
		r.mu.Unlock()
		return domain.APIConnection{}, fmt.Errorf("connection %s: %w", obs.ConnectionID, domain.ErrNotFound)
	}

	reason := "probe succeeded"
	if !obs.Success {
		reason = obs.Error()
	}
	if err := r.walk(conn, settled, reason); err != nil {
		r.mu.Unlock()
		return domain.APIConnection{}, err
	}

	if obs.Success {
		conn.LastLatency = obs.Latency()
	} else {
		conn.ErrorLog.Push(domain.ErrorEntry{
			At:      obs.Timestamp,
			Kind:    obs.ErrorKind,
			Message: obs.Error(),
		})
	}
	conn.UpdatedAt = obs.Timestamp
	snapshot := conn.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return snapshot, nil
}

// walk applies the transition path to conn. Caller holds r.mu.
func (r *Registry) walk(conn *domain.APIConnection, to domain.ConnectionStatus, reason string) error {
	path, err := status.Path(conn.Status, to)
	if err != nil {
		return fmt.Errorf("%s -> %s: %w", conn.Status, to, err)
	}
	history := r.histories[conn.ID]
	now := r.now()
	for _, next := range path {
		t := status.NewTransition(conn.Status, next, reason, now)
		if history != nil {
			history.Record(t)
		}
		conn.Status = next
	}
	return nil
}

// Transitions returns the recent status transitions of a connection, oldest first.
func (r *Registry) Transitions(id string) ([]status.Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.histories[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return h.Transitions(), nil
}

func (r *Registry) persist(ctx context.Context, conn domain.APIConnection) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(ctx, &conn); err != nil {
		r.logger.Error("Failed to persist connection", "connection", conn.ID, "error", err)
	}
}

func normalize(spec domain.ConnectionSpec) domain.ConnectionSpec {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Endpoint = strings.TrimSpace(spec.Endpoint)
	if spec.Kind == "" {
		spec.Kind = domain.TransportREST
	}
	spec.Kind = domain.TransportKind(strings.ToUpper(string(spec.Kind)))
	spec.Method = strings.ToUpper(strings.TrimSpace(spec.Method))
	if spec.Kind == domain.TransportREST && spec.Method == "" {
		spec.Method = "GET"
	}
	return spec
}
