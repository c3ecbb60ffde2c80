package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

var (
	// ErrConnectionNotFound is returned when a persisted connection doesn't exist
	ErrConnectionNotFound = errors.New("connection not found")
)

// ObservationRepository is the append-only probe log, partitioned by connection.
type ObservationRepository interface {
	// Append stores a batch atomically; readers never see half a batch
	Append(ctx context.Context, obs ...domain.Observation) error

	// Window returns up to limit most recent observations newer than since,
	// oldest first. A zero since disables the time bound.
	Window(
		ctx context.Context,
		connectionID string,
		limit int,
		since time.Time,
	) ([]domain.Observation, error)

	// Prune deletes observations older than the threshold
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	// DeleteConnection drops the partition of a removed connection
	DeleteConnection(ctx context.Context, connectionID string) error
}

// ConnectionRepository persists registry records
type ConnectionRepository interface {
	// Save inserts or updates a connection
	Save(ctx context.Context, conn *domain.APIConnection) error

	// Delete removes a connection, no error when absent
	Delete(ctx context.Context, id string) error

	// List returns all stored connections in creation order
	List(ctx context.Context) ([]*domain.APIConnection, error)
}

// AlertRepository persists the current alert table keyed by (connection, rule)
type AlertRepository interface {
	// Upsert stores the alert by id
	Upsert(ctx context.Context, alert *domain.Alert) error

	// ListOpen returns alerts that are not auto-resolved
	ListOpen(ctx context.Context) ([]*domain.Alert, error)
}
