package domain

import "time"

// AlertMetric is the aggregated value an alert rule watches.
type AlertMetric string

const (
	MetricLatency        AlertMetric = "latency"
	MetricErrorRate      AlertMetric = "errorRate"
	MetricRateLimitUsage AlertMetric = "rateLimitUsage"
)

// Comparison is the operator applied between metric and threshold.
type Comparison string

const (
	ComparisonGreaterThan Comparison = "greaterThan"
)

// Severity of an alert, derived from how far the value is over threshold.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertRule is a declarative threshold rule.
type AlertRule struct {
	ID         string      `json:"id"         yaml:"id"`
	Metric     AlertMetric `json:"metric"     yaml:"metric"`
	Threshold  float64     `json:"threshold"  yaml:"threshold"`
	Comparison Comparison  `json:"comparison" yaml:"comparison"`
}

// Alert is a raised rule violation for one connection.
type Alert struct {
	ID               string      `json:"id"               db:"id"`
	RuleID           string      `json:"ruleId"           db:"rule_id"`
	ConnectionID     string      `json:"connectionId"     db:"connection_id"`
	Metric           AlertMetric `json:"metric"           db:"metric"`
	Severity         Severity    `json:"severity"         db:"severity"`
	Message          string      `json:"message"          db:"message"`
	Value            float64     `json:"value"            db:"value"`
	Threshold        float64     `json:"threshold"        db:"threshold"`
	FirstTriggeredAt time.Time   `json:"firstTriggeredAt" db:"first_triggered_at"`
	LastSeenAt       time.Time   `json:"lastSeenAt"       db:"last_seen_at"`
	Acknowledged     bool        `json:"acknowledged"     db:"acknowledged"`
	Dismissed        bool        `json:"dismissed"        db:"dismissed"`
	AutoResolved     bool        `json:"autoResolved"     db:"auto_resolved"`
	ResolvedAt       *time.Time  `json:"resolvedAt"       db:"resolved_at"`
}

// IsOpen reports whether the alert still occupies its (connection, rule) slot.
func (a Alert) IsOpen() bool {
	return !a.AutoResolved
}
