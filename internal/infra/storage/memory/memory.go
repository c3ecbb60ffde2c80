package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// DefaultPartitionCap bounds each connection's in-memory observation log.
const DefaultPartitionCap = 1000

// -----------------------------------------------------------------------------
// Observation Repository
// -----------------------------------------------------------------------------

// ObservationRepo keeps observations in per-connection slices, oldest first.
type ObservationRepo struct {
	mu           sync.RWMutex
	partitions   map[string][]domain.Observation
	partitionCap int
}

func NewObservationRepo(partitionCap int) *ObservationRepo {
	if partitionCap <= 0 {
		partitionCap = DefaultPartitionCap
	}
	return &ObservationRepo{
		partitions:   make(map[string][]domain.Observation),
		partitionCap: partitionCap,
	}
}

func (r *ObservationRepo) Append(ctx context.Context, obs ...domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range obs {
		part := append(r.partitions[o.ConnectionID], o)
		if len(part) > r.partitionCap {
			part = slices.Clone(part[len(part)-r.partitionCap:])
		}
		r.partitions[o.ConnectionID] = part
	}
	return nil
}

func (r *ObservationRepo) Window(
	ctx context.Context,
	connectionID string,
	limit int,
	since time.Time,
) ([]domain.Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partitions[connectionID]
	start := 0
	if limit > 0 && len(part) > limit {
		start = len(part) - limit
	}
	out := make([]domain.Observation, 0, len(part)-start)
	for _, o := range part[start:] {
		if !since.IsZero() && o.Timestamp.Before(since) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *ObservationRepo) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, part := range r.partitions {
		kept := part[:0:0]
		for _, o := range part {
			if o.Timestamp.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, o)
		}
		if len(kept) == 0 {
			delete(r.partitions, id)
			continue
		}
		r.partitions[id] = kept
	}
	return removed, nil
}

func (r *ObservationRepo) DeleteConnection(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.partitions, connectionID)
	return nil
}

// -----------------------------------------------------------------------------
// Connection Repository
// -----------------------------------------------------------------------------

type ConnectionRepo struct {
	mu    sync.RWMutex
	conns map[string]domain.APIConnection
	order []string
}

func NewConnectionRepo() *ConnectionRepo {
	return &ConnectionRepo{conns: make(map[string]domain.APIConnection)}
}

func (r *ConnectionRepo) Save(ctx context.Context, conn *domain.APIConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; !ok {
		r.order = append(r.order, conn.ID)
	}
	r.conns[conn.ID] = conn.Clone()
	return nil
}

func (r *ConnectionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return nil
	}
	delete(r.conns, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return nil
}

func (r *ConnectionRepo) List(ctx context.Context) ([]*domain.APIConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.APIConnection, 0, len(r.order))
	for _, id := range r.order {
		c := r.conns[id]
		clone := c.Clone()
		out = append(out, &clone)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Alert Repository
// -----------------------------------------------------------------------------

type AlertRepo struct {
	mu     sync.RWMutex
	alerts map[string]domain.Alert
}

func NewAlertRepo() *AlertRepo {
	return &AlertRepo{alerts: make(map[string]domain.Alert)}
}

func (r *AlertRepo) Upsert(ctx context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[alert.ID] = *alert
	return nil
}

func (r *AlertRepo) ListOpen(ctx context.Context) ([]*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Alert, 0)
	for _, a := range r.alerts {
		if a.IsOpen() {
			alert := a
			out = append(out, &alert)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Alert) int {
		return a.FirstTriggeredAt.Compare(b.FirstTriggeredAt)
	})
	return out, nil
}
