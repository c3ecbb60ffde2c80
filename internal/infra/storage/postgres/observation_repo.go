package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// ObservationRepo implements storage.ObservationRepository using PostgreSQL.
type ObservationRepo struct {
	db *DB
}

// NewObservationRepo creates a new PostgreSQL observation repository.
func NewObservationRepo(db *DB) *ObservationRepo {
	return &ObservationRepo{db: db}
}

const observationColumns = `connection_id, observed_at, success, latency_ms, http_status, error_message, error_kind, payload_size`

// Append inserts a batch of observations in one transaction.
func (r *ObservationRepo) Append(ctx context.Context, obs ...domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO observations (` + observationColumns + `)
		VALUES (:connection_id, :observed_at, :success, :latency_ms, :http_status, :error_message, :error_kind, :payload_size)
	`
	if _, err := tx.NamedExecContext(ctx, query, obs); err != nil {
		return fmt.Errorf("failed to append observations: %w", err)
	}
	return tx.Commit()
}

// Window returns the newest observations of a connection, oldest first.
func (r *ObservationRepo) Window(
	ctx context.Context,
	connectionID string,
	limit int,
	since time.Time,
) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = 10000
	}

	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE connection_id = $1 AND observed_at >= $2
		ORDER BY observed_at DESC
		LIMIT $3
	`
	var out []domain.Observation
	if err := r.db.SelectContext(ctx, &out, query, connectionID, since, limit); err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// Prune deletes observations older than the threshold.
func (r *ObservationRepo) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM observations WHERE observed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune observations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteConnection removes every observation of a connection.
func (r *ObservationRepo) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM observations WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete observations: %w", err)
	}
	return nil
}
