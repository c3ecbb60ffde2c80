package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

func TestWritePaths(t *testing.T) {
	var buf bytes.Buffer
	if err := writePaths(&buf, []byte(`{"status":"ok","items":[{"id":1}]}`)); err != nil {
		t.Fatalf("writePaths failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header + 4 paths, got %d lines:\n%s", len(lines), buf.String())
	}

	wantPrefixes := []string{"PATH", "status", "items", "  items[0]", "    items[0].id"}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d: expected prefix %q, got %q", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[2], "line-chart") {
		t.Errorf("expected array suggestions, got %q", lines[2])
	}

	if err := writePaths(&buf, []byte(`{"a":`)); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestRunProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Team") != "payments" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	spec := domain.ConnectionSpec{
		Name:     "probe",
		Kind:     domain.TransportREST,
		Endpoint: server.URL,
		Headers:  []domain.KeyValue{{Key: "X-Team", Value: "payments"}},
	}

	var buf bytes.Buffer
	if err := runProbe(context.Background(), &buf, spec, 2*time.Second); err != nil {
		t.Fatalf("expected success, got %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "connected") || !strings.Contains(buf.String(), "http:      200") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	spec.Headers = nil
	buf.Reset()
	err := runProbe(context.Background(), &buf, spec, 2*time.Second)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("expected network error for 400, got %v", err)
	}
	if !strings.Contains(buf.String(), "disconnected") {
		t.Errorf("expected disconnected status, got:\n%s", buf.String())
	}
}

func TestRunProbe_MissingCredential(t *testing.T) {
	spec := domain.ConnectionSpec{
		Name:          "probe",
		Kind:          domain.TransportREST,
		Endpoint:      "https://example.com",
		CredentialRef: "env:APIWATCH_CLI_TEST_UNSET",
	}
	var buf bytes.Buffer
	err := runProbe(context.Background(), &buf, spec, time.Second)
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}
