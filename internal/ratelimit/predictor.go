package ratelimit

import (
	"sync"
	"time"
)

// PredictionStats holds prediction data for a connection.
type PredictionStats struct {
	RequestRatePerMin float64       `json:"requestRatePerMin"`
	TimeToExhaustion  time.Duration `json:"timeToExhaustion"`
	RemainingQuota    int           `json:"remainingQuota"`
}

// Predictor predicts when connections will exhaust their quota.
type Predictor struct {
	mu sync.Mutex

	samples    map[string][]sample
	windowSize time.Duration
	maxSamples int
	now        func() time.Time
}

type sample struct {
	at   time.Time
	cost int
}

// NewPredictor creates a predictor over a 5 minute window.
func NewPredictor(now func() time.Time) *Predictor {
	if now == nil {
		now = time.Now
	}
	return &Predictor{
		samples:    make(map[string][]sample),
		windowSize: 5 * time.Minute,
		maxSamples: 1000,
		now:        now,
	}
}

// RecordRequest records a request for rate tracking.
func (p *Predictor) RecordRequest(connectionID string, cost int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	samples := append(p.samples[connectionID], sample{at: now, cost: cost})

	// Prune old samples
	cutoff := now.Add(-p.windowSize)
	start := 0
	for start < len(samples) && !samples[start].at.After(cutoff) {
		start++
	}
	samples = samples[start:]
	if len(samples) > p.maxSamples {
		samples = samples[len(samples)-p.maxSamples:]
	}
	p.samples[connectionID] = samples
}

// RequestRate returns the current request rate (requests per minute).
func (p *Predictor) RequestRate(connectionID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.windowSize)
	total := 0
	for _, s := range p.samples[connectionID] {
		if s.at.After(cutoff) {
			total += s.cost
		}
	}
	return float64(total) / p.windowSize.Minutes()
}

// TimeToExhaustion predicts how long until the remaining quota is used up.
// Zero means no prediction.
func (p *Predictor) TimeToExhaustion(connectionID string, remaining int) time.Duration {
	rate := p.RequestRate(connectionID)
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	minutes := float64(remaining) / rate
	return time.Duration(minutes * float64(time.Minute))
}

// Stats returns prediction statistics for a connection.
func (p *Predictor) Stats(connectionID string, remaining int) PredictionStats {
	return PredictionStats{
		RequestRatePerMin: p.RequestRate(connectionID),
		TimeToExhaustion:  p.TimeToExhaustion(connectionID, remaining),
		RemainingQuota:    remaining,
	}
}

// Forget clears tracking data of a connection.
func (p *Predictor) Forget(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.samples, connectionID)
}
