package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/infra/storage/memory"
)

func TestPruner_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	repo := memory.NewObservationRepo(0)

	err := repo.Append(ctx,
		domain.Observation{ConnectionID: "a", Timestamp: now.Add(-3 * time.Hour), Success: true},
		domain.Observation{ConnectionID: "a", Timestamp: now.Add(-30 * time.Minute), Success: true},
		domain.Observation{ConnectionID: "b", Timestamp: now.Add(-2 * time.Hour), Success: false},
	)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	p := NewPruner(time.Hour, 0, repo)
	p.now = func() time.Time { return now }

	if n := p.Prune(ctx); n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}

	left, _ := repo.Window(ctx, "a", 0, time.Time{})
	if len(left) != 1 {
		t.Errorf("expected 1 observation left, got %d", len(left))
	}
	if n := p.Prune(ctx); n != 0 {
		t.Errorf("expected nothing left to prune, got %d", n)
	}
}

func TestPruner_Interval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		interval  time.Duration
		want      time.Duration
	}{
		{retention: 24 * time.Hour, want: time.Hour},
		{retention: time.Minute, want: time.Minute},
		{retention: 2 * time.Hour, want: 12 * time.Minute},
		{retention: time.Hour, interval: 5 * time.Second, want: 5 * time.Second},
	}
	for _, tt := range tests {
		p := NewPruner(tt.retention, tt.interval, nil)
		if p.interval != tt.want {
			t.Errorf("retention %s: expected interval %s, got %s", tt.retention, tt.want, p.interval)
		}
	}
}

func TestPruner_DisabledReturnsImmediately(t *testing.T) {
	p := NewPruner(0, time.Second, nil)
	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return when retention is disabled")
	}
}
