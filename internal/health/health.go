// Package health derives per-connection health from the observation log.
package health

import (
	"math"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a connection.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

const (
	DefaultWindowSize     = 50
	DefaultWindowDuration = time.Hour
	DefaultFastThreshold  = 200 * time.Millisecond

	// trendDelta is the score change needed to report up or down
	trendDelta = 2.0
)

// Config holds aggregation settings.
type Config struct {
	WindowSize     int           `yaml:"window_size"`
	WindowDuration time.Duration `yaml:"window_duration"`
	FastThreshold  time.Duration `yaml:"fast_threshold"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = DefaultWindowDuration
	}
	if c.FastThreshold <= 0 {
		c.FastThreshold = DefaultFastThreshold
	}
	return c
}

// SelectWindow keeps the last WindowSize observations that are also no older
// than WindowDuration. obs must be ordered oldest first.
func SelectWindow(obs []domain.Observation, cfg Config, now time.Time) []domain.Observation {
	cfg = cfg.WithDefaults()
	if len(obs) > cfg.WindowSize {
		obs = obs[len(obs)-cfg.WindowSize:]
	}
	cutoff := now.Add(-cfg.WindowDuration)
	for i, o := range obs {
		if !o.Timestamp.Before(cutoff) {
			return obs[i:]
		}
	}
	return nil
}

// Compute builds a snapshot from a window of observations. It has no side
// effects; prev is the previous snapshot of the same connection, if any.
func Compute(
	connectionID string,
	window []domain.Observation,
	prev *domain.HealthSnapshot,
	cfg Config,
	now time.Time,
) domain.HealthSnapshot {
	cfg = cfg.WithDefaults()

	snap := domain.HealthSnapshot{
		ConnectionID: connectionID,
		RequestCount: len(window),
		Trend:        domain.TrendStable,
		ComputedAt:   now,
	}

	var latencySum float64
	successes := 0
	for _, o := range window {
		if !o.Success {
			snap.ErrorCount++
			continue
		}
		if o.LatencyMs != nil {
			latencySum += *o.LatencyMs
			successes++
		}
	}

	if snap.RequestCount > 0 {
		snap.ErrorRatePercent = float64(snap.ErrorCount) / float64(snap.RequestCount) * 100
	}
	if successes > 0 {
		avg := latencySum / float64(successes)
		snap.RollingAvgLatencyMs = &avg
	}

	snap.HealthScore = Score(snap.ErrorRatePercent, snap.RollingAvgLatencyMs, cfg.FastThreshold)

	if prev != nil {
		delta := snap.HealthScore - prev.HealthScore
		switch {
		case delta > trendDelta:
			snap.Trend = domain.TrendUp
		case delta < -trendDelta:
			snap.Trend = domain.TrendDown
		}
	}
	return snap
}

// Score is 100 - min(100, errorRate*2 + max(0, avg-fast)/10), clamped to
// [0,100]. A nil average drops the latency term.
func Score(errorRatePercent float64, avgLatencyMs *float64, fast time.Duration) float64 {
	penalty := errorRatePercent * 2
	if avgLatencyMs != nil {
		fastMs := float64(fast) / float64(time.Millisecond)
		penalty += math.Max(0, *avgLatencyMs-fastMs) / 10
	}
	score := 100 - math.Min(100, penalty)
	return math.Max(0, math.Min(100, score))
}

// StatusFor maps a score to a status bucket.
func StatusFor(score float64) SystemStatus {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 50:
		return StatusDegraded
	default:
		return StatusCritical
	}
}
