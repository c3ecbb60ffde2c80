package probe

import (
	"testing"
	"time"
)

func TestThrottleMonitor_BlockedThenRecovers(t *testing.T) {
	m := NewThrottleMonitor()
	now := time.Now()
	m.now = func() time.Time { return now }

	m.RecordThrottle("c1", 403, "")
	if got := m.Status("c1"); got != ThrottleBlocked {
		t.Errorf("expected blocked, got %s", got)
	}
	if got := m.Status("c2"); got != ThrottleHealthy {
		t.Errorf("expected other connection healthy, got %s", got)
	}

	now = now.Add(2 * time.Minute)
	if got := m.Status("c1"); got != ThrottleHealthy {
		t.Errorf("expected healthy after retry window, got %s", got)
	}
}

func TestThrottleMonitor_Degraded(t *testing.T) {
	m := NewThrottleMonitor()
	for i := 0; i < 11; i++ {
		m.RecordRequest("c1", 4*time.Second)
	}
	if got := m.Status("c1"); got != ThrottleDegraded {
		t.Errorf("expected degraded, got %s", got)
	}

	m.Forget("c1")
	if got := m.Stats("c1"); got.Status != "healthy" || got.AverageLatency != 0 {
		t.Errorf("expected reset stats, got %+v", got)
	}
}

func TestThrottleMonitor_DetectPattern(t *testing.T) {
	m := NewThrottleMonitor()
	if !m.DetectThrottlePattern(`{"error":"Rate limit exceeded"}`) {
		t.Error("expected pattern match")
	}
	if m.DetectThrottlePattern("internal server error") {
		t.Error("expected no match")
	}
}
