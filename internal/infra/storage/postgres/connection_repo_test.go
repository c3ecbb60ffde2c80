package postgres

import (
	"testing"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

func TestDriverName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "pgx", false},
		{"pgx", "pgx", false},
		{"postgres", "postgres", false},
		{"lib/pq", "postgres", false},
		{"sqlite", "", true},
	}

	for _, tt := range tests {
		got, err := driverName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("driverName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("driverName(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestConnectionRow_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errLog := domain.NewErrorLog(domain.DefaultErrorLogCapacity)
	errLog.Push(domain.ErrorEntry{At: now, Kind: domain.ErrorKindTimeout, Message: "deadline exceeded"})

	conn := &domain.APIConnection{
		ID:            "c1",
		Name:          "payments",
		Kind:          domain.TransportREST,
		Endpoint:      "https://api.example.com",
		CredentialRef: "env:PAYMENTS_TOKEN",
		Headers:       []domain.KeyValue{{Key: "X-Team", Value: "core"}},
		Params:        []domain.KeyValue{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}},
		PollInterval:  15 * time.Second,
		RateLimit:     &domain.RateLimitQuota{Limit: 100, Window: time.Minute},
		Status:        domain.StatusWarning,
		LastLatency:   750 * time.Millisecond,
		CreatedAt:     now,
		UpdatedAt:     now,
		ErrorLog:      errLog,
	}

	row, err := toRow(conn)
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}
	got, err := row.toDomain(domain.DefaultErrorLogCapacity)
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}

	if got.CredentialRef.Reveal() != "env:PAYMENTS_TOKEN" {
		t.Errorf("expected credential reference preserved, got %q", got.CredentialRef.Reveal())
	}
	if len(got.Params) != 2 || got.Params[0].Key != "b" {
		t.Errorf("expected param order preserved, got %+v", got.Params)
	}
	if got.RateLimit == nil || got.RateLimit.Limit != 100 || got.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit: %+v", got.RateLimit)
	}
	if got.LastLatency != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", got.LastLatency)
	}
	if got.ErrorLog.Len() != 1 {
		t.Errorf("expected 1 error log entry, got %d", got.ErrorLog.Len())
	}
}
