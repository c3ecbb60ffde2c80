package domain

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestErrorLog_NewestFirstAndBounded(t *testing.T) {
	log := NewErrorLog(3)
	for i := 1; i <= 5; i++ {
		log.Push(ErrorEntry{Message: fmt.Sprintf("err-%d", i)})
	}

	entries := log.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"err-5", "err-4", "err-3"}
	for i, w := range want {
		if entries[i].Message != w {
			t.Errorf("entry %d: expected %s, got %s", i, w, entries[i].Message)
		}
	}

	latest, ok := log.Latest()
	if !ok || latest.Message != "err-5" {
		t.Errorf("expected latest err-5, got %v (ok=%v)", latest.Message, ok)
	}
}

func TestErrorLog_CloneIsIndependent(t *testing.T) {
	log := NewErrorLog(5)
	log.Push(ErrorEntry{Message: "first"})

	clone := log.Clone()
	clone.Push(ErrorEntry{Message: "second"})

	if log.Len() != 1 {
		t.Errorf("expected original to keep 1 entry, got %d", log.Len())
	}
	if clone.Len() != 2 {
		t.Errorf("expected clone to hold 2 entries, got %d", clone.Len())
	}
}

func TestErrorLog_JSON(t *testing.T) {
	log := NewErrorLog(5)
	log.Push(ErrorEntry{Message: "old", Kind: ErrorKindNetwork})
	log.Push(ErrorEntry{Message: "new", Kind: ErrorKindTimeout})

	data, err := json.Marshal(log)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := NewErrorLog(5)
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	entries := restored.Entries()
	if len(entries) != 2 || entries[0].Message != "new" || entries[1].Message != "old" {
		t.Errorf("unexpected entries after round trip: %+v", entries)
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("env:API_TOKEN")
	if got := fmt.Sprintf("%v", s); got != "[REDACTED]" {
		t.Errorf("expected redacted secret, got %q", got)
	}
	if s.Reveal() != "env:API_TOKEN" {
		t.Errorf("expected raw reference, got %q", s.Reveal())
	}
}

func TestProbeError_Unwrap(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{ErrorKindTimeout, ErrTimeout},
		{ErrorKindNetwork, ErrNetwork},
		{ErrorKindConfig, ErrConfig},
	}
	for _, tt := range tests {
		err := &ProbeError{ConnectionID: "c1", Kind: tt.kind}
		if got := err.Unwrap(); got != tt.want {
			t.Errorf("kind %s: expected %v, got %v", tt.kind, tt.want, got)
		}
	}
}
