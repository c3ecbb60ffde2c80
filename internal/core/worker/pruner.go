package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/apiwatch/internal/infra/storage"
	"github.com/vietddude/apiwatch/internal/metrics"
)

// Pruner deletes observations older than the retention period.
type Pruner struct {
	retention time.Duration
	interval  time.Duration
	repo      storage.ObservationRepository
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A zero interval derives one from
// the retention period.
func NewPruner(retention, interval time.Duration, repo storage.ObservationRepository) *Pruner {
	if interval <= 0 {
		// 10% of retention period, clamped to [1m, 1h]
		interval = min(retention/10, time.Hour)
		interval = max(interval, time.Minute)
	}
	return &Pruner{
		retention: retention,
		interval:  interval,
		repo:      repo,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one retention pass and returns the number of removed observations.
func (p *Pruner) Prune(ctx context.Context) int {
	threshold := p.now().Add(-p.retention)

	n, err := p.repo.Prune(ctx, threshold)
	if err != nil {
		slog.Error("[Pruner] failed to prune observations", "threshold", threshold, "error", err)
		return 0
	}
	if n > 0 {
		metrics.ObservationsPruned.Add(float64(n))
		slog.Debug("[Pruner] pruned observations", "count", n, "threshold", threshold)
	}
	return n
}
