package domain

import "time"

// Trend compares a health score with the previous snapshot.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// HealthSnapshot is the derived health of one connection over its rolling window.
// Snapshots are replaced on every aggregation pass, never mutated.
type HealthSnapshot struct {
	ConnectionID        string    `json:"connectionId"`
	HealthScore         float64   `json:"healthScore"`
	RollingAvgLatencyMs *float64  `json:"rollingAvgLatencyMs"`
	ErrorRatePercent    float64   `json:"errorRatePercent"`
	RequestCount        int       `json:"requestCount"`
	ErrorCount          int       `json:"errorCount"`
	Trend               Trend     `json:"trend"`
	ComputedAt          time.Time `json:"computedAt"`
}

// RateLimitState is the quota usage of one connection in its current window.
type RateLimitState struct {
	ConnectionID string    `json:"connectionId"`
	Used         int       `json:"used"`
	Limit        int       `json:"limit"`
	ResetAt      time.Time `json:"resetAt"`
}

// PercentUsed returns used/limit*100, or 0 when no limit is declared.
func (s RateLimitState) PercentUsed() float64 {
	if s.Limit <= 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Limit) * 100
}
