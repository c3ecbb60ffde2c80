package probe

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/metrics"
)

// ThrottleStatus represents how a provider is treating this client.
type ThrottleStatus int

const (
	ThrottleHealthy   ThrottleStatus = iota // Provider is working normally
	ThrottleDegraded                        // Provider is slow but working
	ThrottleThrottled                       // Provider is rate limiting
	ThrottleBlocked                         // Provider has blocked this client
)

func (s ThrottleStatus) String() string {
	switch s {
	case ThrottleDegraded:
		return "degraded"
	case ThrottleThrottled:
		return "throttled"
	case ThrottleBlocked:
		return "blocked"
	default:
		return "healthy"
	}
}

// ThrottleStats holds throttling statistics for one connection.
type ThrottleStats struct {
	Status           string        `json:"status"`
	AverageLatency   time.Duration `json:"averageLatency"`
	ThrottleCount429 int           `json:"throttleCount429"`
	ThrottleCount403 int           `json:"throttleCount403"`
	RetryAfter       time.Duration `json:"retryAfter"`
}

type throttleEntry struct {
	recentLatencies    []time.Duration
	status429Count     int
	status403Count     int
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration
}

// ThrottleMonitor tracks provider throttling per connection. It only
// observes; probes are never held back.
type ThrottleMonitor struct {
	mu      sync.RWMutex
	entries map[string]*throttleEntry

	throttlePatterns      []string
	maxLatencyWindow      int
	slowResponseThreshold time.Duration
	defaultRetryAfter     time.Duration
	now                   func() time.Time
}

// NewThrottleMonitor creates a new monitor with default settings.
func NewThrottleMonitor() *ThrottleMonitor {
	return &ThrottleMonitor{
		entries: make(map[string]*throttleEntry),
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"quota exceeded",
		},
		maxLatencyWindow:      100,
		slowResponseThreshold: 3 * time.Second,
		defaultRetryAfter:     time.Minute,
		now:                   time.Now,
	}
}

func (m *ThrottleMonitor) entry(id string) *throttleEntry {
	e, ok := m.entries[id]
	if !ok {
		e = &throttleEntry{}
		m.entries[id] = e
	}
	return e
}

// RecordRequest records a successful request with its latency.
func (m *ThrottleMonitor) RecordRequest(connectionID string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(connectionID)
	e.recentLatencies = append(e.recentLatencies, latency)
	if len(e.recentLatencies) > m.maxLatencyWindow {
		e.recentLatencies = e.recentLatencies[1:]
	}
}

// RecordThrottle records a rate limiting or blocking response.
func (m *ThrottleMonitor) RecordThrottle(connectionID string, statusCode int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entry(connectionID)
	e.lastThrottleTime = m.now()
	e.retryAfterDuration = m.defaultRetryAfter
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
		e.retryAfterDuration = time.Duration(secs) * time.Second
	}

	switch statusCode {
	case 429:
		e.status429Count++
	case 403:
		e.status403Count++
	}
	metrics.ProviderThrottled.WithLabelValues(connectionID, strconv.Itoa(statusCode)).Inc()
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (m *ThrottleMonitor) DetectThrottlePattern(message string) bool {
	lowerMsg := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// Status returns the current throttle status of a connection.
func (m *ThrottleMonitor) Status(connectionID string) ThrottleStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status(m.entries[connectionID])
}

func (m *ThrottleMonitor) status(e *throttleEntry) ThrottleStatus {
	if e == nil {
		return ThrottleHealthy
	}
	inWindow := m.now().Sub(e.lastThrottleTime) < e.retryAfterDuration

	if e.status403Count > 0 && inWindow {
		return ThrottleBlocked
	}
	if e.status429Count > 0 && inWindow {
		return ThrottleThrottled
	}
	if len(e.recentLatencies) > 10 && average(e.recentLatencies) > m.slowResponseThreshold {
		return ThrottleDegraded
	}
	return ThrottleHealthy
}

// Stats returns throttling statistics for a connection.
func (m *ThrottleMonitor) Stats(connectionID string) ThrottleStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e := m.entries[connectionID]
	stats := ThrottleStats{Status: m.status(e).String()}
	if e == nil {
		return stats
	}
	stats.AverageLatency = average(e.recentLatencies)
	stats.ThrottleCount429 = e.status429Count
	stats.ThrottleCount403 = e.status403Count
	if remaining := e.retryAfterDuration - m.now().Sub(e.lastThrottleTime); remaining > 0 {
		stats.RetryAfter = remaining
	}
	return stats
}

// Forget drops the state of a removed connection.
func (m *ThrottleMonitor) Forget(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, connectionID)
}

func average(lats []time.Duration) time.Duration {
	if len(lats) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range lats {
		total += lat
	}
	return total / time.Duration(len(lats))
}
