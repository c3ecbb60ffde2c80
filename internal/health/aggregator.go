package health

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/infra/storage"
	"github.com/vietddude/apiwatch/internal/metrics"
)

// SystemHealth is the roll-up across all connections.
type SystemHealth struct {
	Status       SystemStatus `json:"status"`
	AverageScore float64      `json:"averageScore"`
	Connections  int          `json:"connections"`
	Healthy      int          `json:"healthy"`
	Degraded     int          `json:"degraded"`
	Critical     int          `json:"critical"`
}

// Aggregator keeps the latest snapshot per connection. Snapshots are replaced
// as a whole on every pass; readers get values, never shared pointers.
type Aggregator struct {
	mu        sync.RWMutex
	snapshots map[string]domain.HealthSnapshot

	// recomputeMu serializes passes so each trend is taken against the
	// snapshot written by the previous pass.
	recomputeMu sync.Mutex

	repo storage.ObservationRepository
	cfg  Config
	now  func() time.Time
}

// NewAggregator creates an aggregator reading from repo.
func NewAggregator(repo storage.ObservationRepository, cfg Config, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		snapshots: make(map[string]domain.HealthSnapshot),
		repo:      repo,
		cfg:       cfg.WithDefaults(),
		now:       now,
	}
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Recompute rebuilds the snapshots of the given connections. It must run after
// the batch that produced new observations has been committed. Concurrent
// calls run one after another.
func (a *Aggregator) Recompute(ctx context.Context, ids []string) ([]domain.HealthSnapshot, error) {
	a.recomputeMu.Lock()
	defer a.recomputeMu.Unlock()

	now := a.now()
	since := now.Add(-a.cfg.WindowDuration)

	out := make([]domain.HealthSnapshot, 0, len(ids))
	for _, id := range ids {
		obs, err := a.repo.Window(ctx, id, a.cfg.WindowSize, since)
		if err != nil {
			return out, err
		}

		a.mu.RLock()
		prev, hasPrev := a.snapshots[id]
		a.mu.RUnlock()

		var prevPtr *domain.HealthSnapshot
		if hasPrev {
			prevPtr = &prev
		}
		snap := Compute(id, SelectWindow(obs, a.cfg, now), prevPtr, a.cfg, now)

		a.mu.Lock()
		a.snapshots[id] = snap
		a.mu.Unlock()

		metrics.HealthScore.WithLabelValues(id).Set(snap.HealthScore)
		metrics.ErrorRate.WithLabelValues(id).Set(snap.ErrorRatePercent)
		out = append(out, snap)
	}
	return out, nil
}

// Snapshot returns the latest snapshot of a connection.
func (a *Aggregator) Snapshot(id string) (domain.HealthSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.snapshots[id]
	return snap, ok
}

// SnapshotAll returns all snapshots ordered by connection id.
func (a *Aggregator) SnapshotAll() []domain.HealthSnapshot {
	a.mu.RLock()
	out := make([]domain.HealthSnapshot, 0, len(a.snapshots))
	for _, s := range a.snapshots {
		out = append(out, s)
	}
	a.mu.RUnlock()

	slices.SortFunc(out, func(x, y domain.HealthSnapshot) int {
		return strings.Compare(x.ConnectionID, y.ConnectionID)
	})
	return out
}

// Forget drops the snapshot of a removed connection.
func (a *Aggregator) Forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.snapshots, id)
}

// Overall rolls the snapshots up into system health. The worst connection
// decides the status.
func (a *Aggregator) Overall() SystemHealth {
	snaps := a.SnapshotAll()
	report := SystemHealth{Status: StatusHealthy, AverageScore: 100, Connections: len(snaps)}
	if len(snaps) == 0 {
		return report
	}

	var total float64
	for _, s := range snaps {
		total += s.HealthScore
		switch StatusFor(s.HealthScore) {
		case StatusHealthy:
			report.Healthy++
		case StatusDegraded:
			report.Degraded++
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		case StatusCritical:
			report.Critical++
			report.Status = StatusCritical
		}
	}
	report.AverageScore = total / float64(len(snaps))
	return report
}
