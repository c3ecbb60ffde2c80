package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// ConnectionRepo implements storage.ConnectionRepository using PostgreSQL.
type ConnectionRepo struct {
	db *DB
}

// NewConnectionRepo creates a new PostgreSQL connection repository.
func NewConnectionRepo(db *DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

type connectionRow struct {
	ID             string        `db:"id"`
	Name           string        `db:"name"`
	Kind           string        `db:"kind"`
	Endpoint       string        `db:"endpoint"`
	Method         string        `db:"method"`
	Path           string        `db:"path"`
	CredentialRef  string        `db:"credential_ref"`
	Headers        string        `db:"headers"`
	Params         string        `db:"params"`
	PollIntervalMs int64         `db:"poll_interval_ms"`
	RateLimit      sql.NullInt64 `db:"rate_limit"`
	RateWindowMs   sql.NullInt64 `db:"rate_window_ms"`
	Status         string        `db:"status"`
	LastLatencyMs  float64       `db:"last_latency_ms"`
	ErrorLog       string        `db:"error_log"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func toRow(c *domain.APIConnection) (*connectionRow, error) {
	headers, err := json.Marshal(c.Headers)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(c.Params)
	if err != nil {
		return nil, err
	}
	errorLog := []byte("[]")
	if c.ErrorLog != nil {
		if errorLog, err = json.Marshal(c.ErrorLog); err != nil {
			return nil, err
		}
	}

	row := &connectionRow{
		ID:             c.ID,
		Name:           c.Name,
		Kind:           string(c.Kind),
		Endpoint:       c.Endpoint,
		Method:         c.Method,
		Path:           c.Path,
		CredentialRef:  c.CredentialRef.Reveal(),
		Headers:        string(headers),
		Params:         string(params),
		PollIntervalMs: c.PollInterval.Milliseconds(),
		Status:         string(c.Status),
		LastLatencyMs:  float64(c.LastLatency) / float64(time.Millisecond),
		ErrorLog:       string(errorLog),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.RateLimit != nil {
		row.RateLimit = sql.NullInt64{Int64: int64(c.RateLimit.Limit), Valid: true}
		row.RateWindowMs = sql.NullInt64{Int64: c.RateLimit.Window.Milliseconds(), Valid: true}
	}
	return row, nil
}

func (row *connectionRow) toDomain(errorLogCap int) (*domain.APIConnection, error) {
	c := &domain.APIConnection{
		ID:            row.ID,
		Name:          row.Name,
		Kind:          domain.TransportKind(row.Kind),
		Endpoint:      row.Endpoint,
		Method:        row.Method,
		Path:          row.Path,
		CredentialRef: domain.Secret(row.CredentialRef),
		PollInterval:  time.Duration(row.PollIntervalMs) * time.Millisecond,
		Status:        domain.ConnectionStatus(row.Status),
		LastLatency:   time.Duration(row.LastLatencyMs * float64(time.Millisecond)),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		ErrorLog:      domain.NewErrorLog(errorLogCap),
	}
	if err := json.Unmarshal([]byte(row.Headers), &c.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Params), &c.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if len(row.ErrorLog) > 0 {
		if err := json.Unmarshal([]byte(row.ErrorLog), c.ErrorLog); err != nil {
			return nil, fmt.Errorf("decode error log: %w", err)
		}
	}
	if row.RateLimit.Valid {
		c.RateLimit = &domain.RateLimitQuota{
			Limit:  int(row.RateLimit.Int64),
			Window: time.Duration(row.RateWindowMs.Int64) * time.Millisecond,
		}
	}
	return c, nil
}

// Save upserts a connection.
func (r *ConnectionRepo) Save(ctx context.Context, conn *domain.APIConnection) error {
	row, err := toRow(conn)
	if err != nil {
		return fmt.Errorf("failed to encode connection: %w", err)
	}

	query := `
		INSERT INTO connections (
			id, name, kind, endpoint, method, path, credential_ref, headers, params,
			poll_interval_ms, rate_limit, rate_window_ms, status, last_latency_ms,
			error_log, created_at, updated_at
		) VALUES (
			:id, :name, :kind, :endpoint, :method, :path, :credential_ref, :headers, :params,
			:poll_interval_ms, :rate_limit, :rate_window_ms, :status, :last_latency_ms,
			:error_log, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			endpoint = EXCLUDED.endpoint,
			method = EXCLUDED.method,
			path = EXCLUDED.path,
			credential_ref = EXCLUDED.credential_ref,
			headers = EXCLUDED.headers,
			params = EXCLUDED.params,
			poll_interval_ms = EXCLUDED.poll_interval_ms,
			rate_limit = EXCLUDED.rate_limit,
			rate_window_ms = EXCLUDED.rate_window_ms,
			status = EXCLUDED.status,
			last_latency_ms = EXCLUDED.last_latency_ms,
			error_log = EXCLUDED.error_log,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

// Delete removes a connection.
func (r *ConnectionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// List returns all connections in creation order.
func (r *ConnectionRepo) List(ctx context.Context) ([]*domain.APIConnection, error) {
	var rows []connectionRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM connections ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	out := make([]*domain.APIConnection, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toDomain(domain.DefaultErrorLogCapacity)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", rows[i].ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}
