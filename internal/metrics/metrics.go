package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal tracks probes per connection and result
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_probes_total",
			Help: "Total number of probes executed",
		},
		[]string{"connection", "kind", "result"},
	)

	// ProbeErrorsTotal tracks failed probes by error kind
	ProbeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_probe_errors_total",
			Help: "Total number of failed probes",
		},
		[]string{"connection", "error_kind"},
	)

	// ProbeLatency tracks probe latency
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiwatch_probe_latency_seconds",
			Help:    "Probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connection"},
	)

	// HealthScore is the latest health score per connection
	HealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apiwatch_health_score",
			Help: "Rolling health score (0-100)",
		},
		[]string{"connection"},
	)

	// ErrorRate is the rolling error rate per connection
	ErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apiwatch_error_rate_percent",
			Help: "Rolling error rate in percent",
		},
		[]string{"connection"},
	)

	// RateLimitUsage is the quota usage per connection
	RateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apiwatch_rate_limit_usage_percent",
			Help: "Rate limit quota usage in percent",
		},
		[]string{"connection"},
	)

	// AlertsActive is the number of unacknowledged active alerts
	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiwatch_alerts_active",
			Help: "Number of active unacknowledged alerts",
		},
	)

	// AlertsTriggered counts newly raised alerts by severity
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_alerts_triggered_total",
			Help: "Total number of alerts raised",
		},
		[]string{"metric", "severity"},
	)

	// AlertNotificationsDropped counts alert events dropped on a full delivery queue
	AlertNotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiwatch_alert_notifications_dropped_total",
			Help: "Total number of alert events dropped because the delivery queue was full",
		},
	)

	// PollerBatchDuration tracks the duration of one poll batch
	PollerBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apiwatch_poller_batch_duration_seconds",
			Help:    "Time taken to probe one batch of due connections",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ProviderThrottled counts 429/403 responses per connection
	ProviderThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiwatch_provider_throttled_total",
			Help: "Total number of throttling responses (429/403)",
		},
		[]string{"connection", "status"},
	)

	// ObservationsPruned counts observations removed by retention
	ObservationsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiwatch_observations_pruned_total",
			Help: "Total number of observations pruned by retention",
		},
	)

	// DBConnectionPoolUsage tracks database pool usage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiwatch_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// RedisErrors counts failed rate-limit store calls
	RedisErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiwatch_redis_errors_total",
			Help: "Total number of redis rate-limit store errors",
		},
	)
)

// Forget removes every per-connection series of a removed connection.
func Forget(connectionID string) {
	labels := prometheus.Labels{"connection": connectionID}
	ProbesTotal.DeletePartialMatch(labels)
	ProbeErrorsTotal.DeletePartialMatch(labels)
	ProbeLatency.DeletePartialMatch(labels)
	HealthScore.DeletePartialMatch(labels)
	ErrorRate.DeletePartialMatch(labels)
	RateLimitUsage.DeletePartialMatch(labels)
	ProviderThrottled.DeletePartialMatch(labels)
}
