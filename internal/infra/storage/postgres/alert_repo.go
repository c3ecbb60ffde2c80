package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// AlertRepo implements storage.AlertRepository using PostgreSQL.
type AlertRepo struct {
	db *DB
}

// NewAlertRepo creates a new PostgreSQL alert repository.
func NewAlertRepo(db *DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// Upsert saves the alert keyed by id.
func (r *AlertRepo) Upsert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			id, rule_id, connection_id, metric, severity, message, value, threshold,
			first_triggered_at, last_seen_at, acknowledged, dismissed, auto_resolved, resolved_at
		) VALUES (
			:id, :rule_id, :connection_id, :metric, :severity, :message, :value, :threshold,
			:first_triggered_at, :last_seen_at, :acknowledged, :dismissed, :auto_resolved, :resolved_at
		)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			message = EXCLUDED.message,
			value = EXCLUDED.value,
			last_seen_at = EXCLUDED.last_seen_at,
			acknowledged = EXCLUDED.acknowledged,
			dismissed = EXCLUDED.dismissed,
			auto_resolved = EXCLUDED.auto_resolved,
			resolved_at = EXCLUDED.resolved_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, alert); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// ListOpen returns alerts that are not yet auto-resolved.
func (r *AlertRepo) ListOpen(ctx context.Context) ([]*domain.Alert, error) {
	var out []*domain.Alert
	query := `SELECT * FROM alerts WHERE NOT auto_resolved ORDER BY first_triggered_at`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, nil
}
