package alerting

import (
	"fmt"
	"strings"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// DefaultRules returns the built-in threshold rules.
func DefaultRules() []domain.AlertRule {
	return []domain.AlertRule{
		{ID: "high-latency", Metric: domain.MetricLatency, Threshold: 1000, Comparison: domain.ComparisonGreaterThan},
		{ID: "high-error-rate", Metric: domain.MetricErrorRate, Threshold: 5, Comparison: domain.ComparisonGreaterThan},
		{ID: "rate-limit-usage", Metric: domain.MetricRateLimitUsage, Threshold: 80, Comparison: domain.ComparisonGreaterThan},
	}
}

// ValidateRules checks a rule set and fills defaults. Rule ids default to the
// metric name and must be unique.
func ValidateRules(rules []domain.AlertRule) ([]domain.AlertRule, error) {
	out := make([]domain.AlertRule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		switch r.Metric {
		case domain.MetricLatency, domain.MetricErrorRate, domain.MetricRateLimitUsage:
		default:
			return nil, domain.NewValidationError(fmt.Sprintf("rules[%d].metric", i), "unknown metric %q", r.Metric)
		}
		if r.Comparison == "" {
			r.Comparison = domain.ComparisonGreaterThan
		}
		if r.Comparison != domain.ComparisonGreaterThan {
			return nil, domain.NewValidationError(fmt.Sprintf("rules[%d].comparison", i), "unsupported comparison %q", r.Comparison)
		}
		if r.Threshold < 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("rules[%d].threshold", i), "must not be negative")
		}
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = string(r.Metric)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, domain.NewValidationError(fmt.Sprintf("rules[%d].id", i), "duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// SeverityFor derives severity from value/threshold: above 2 is high, above
// 1.2 is medium, otherwise low.
func SeverityFor(value, threshold float64) domain.Severity {
	if threshold <= 0 {
		return domain.SeverityHigh
	}
	ratio := value / threshold
	switch {
	case ratio > 2:
		return domain.SeverityHigh
	case ratio > 1.2:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func holds(rule domain.AlertRule, value float64) bool {
	// greaterThan is the only comparison
	return value > rule.Threshold
}

func message(name string, rule domain.AlertRule, value float64) string {
	switch rule.Metric {
	case domain.MetricLatency:
		return fmt.Sprintf("%s: average latency %.0fms exceeds %.0fms", name, value, rule.Threshold)
	case domain.MetricErrorRate:
		return fmt.Sprintf("%s: error rate %.1f%% exceeds %.1f%%", name, value, rule.Threshold)
	case domain.MetricRateLimitUsage:
		return fmt.Sprintf("%s: rate limit usage %.1f%% exceeds %.1f%%", name, value, rule.Threshold)
	default:
		return fmt.Sprintf("%s: %s %.2f exceeds %.2f", name, rule.Metric, value, rule.Threshold)
	}
}
