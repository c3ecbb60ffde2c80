package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// =============================================================================
// HTTP
// =============================================================================

func TestHTTPProber_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status" {
			t.Errorf("expected path /v1/status, got %s", r.URL.Path)
		}
		if r.URL.RawQuery != "z=1&a=2" {
			t.Errorf("expected ordered query z=1&a=2, got %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer credential, got %q", got)
		}
		if got := r.Header.Get("X-Team"); got != "core" {
			t.Errorf("expected X-Team header, got %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p := NewHTTPProber(5*time.Second, nil)
	conn := domain.APIConnection{
		ID:       "c1",
		Kind:     domain.TransportREST,
		Endpoint: server.URL,
		Path:     "/v1/status",
		Headers:  []domain.KeyValue{{Key: "X-Team", Value: "core"}},
		Params:   []domain.KeyValue{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}},
	}

	res := p.Probe(context.Background(), conn, "tok")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.HTTPStatus != 200 {
		t.Errorf("expected status 200, got %d", res.HTTPStatus)
	}
	if res.BodySize != int64(len(`{"ok":true}`)) || string(res.Body) != `{"ok":true}` {
		t.Errorf("unexpected body %q (size %d)", res.Body, res.BodySize)
	}
}

func TestHTTPProber_ExplicitAuthorizationWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token abc" {
			t.Errorf("expected configured Authorization header, got %q", got)
		}
	}))
	defer server.Close()

	p := NewHTTPProber(5*time.Second, nil)
	conn := domain.APIConnection{
		Endpoint: server.URL,
		Headers:  []domain.KeyValue{{Key: "Authorization", Value: "Token abc"}},
	}
	if res := p.Probe(context.Background(), conn, "tok"); !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestHTTPProber_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("Too Many Requests"))
	}))
	defer server.Close()

	p := NewHTTPProber(5*time.Second, nil)
	res := p.Probe(context.Background(), domain.APIConnection{ID: "c1", Endpoint: server.URL}, "")

	if res.Success {
		t.Fatal("expected failure for 429")
	}
	if res.ErrorKind != domain.ErrorKindNetwork {
		t.Errorf("expected network error kind, got %s", res.ErrorKind)
	}
	if res.HTTPStatus != 429 {
		t.Errorf("expected status 429, got %d", res.HTTPStatus)
	}
	if !strings.Contains(res.ErrorMessage, "throttled") {
		t.Errorf("expected throttle hint in message, got %q", res.ErrorMessage)
	}
	if got := p.Monitor.Status("c1"); got != ThrottleThrottled {
		t.Errorf("expected throttled status, got %s", got)
	}
	if stats := p.Monitor.Stats("c1"); stats.RetryAfter <= 0 || stats.RetryAfter > 30*time.Second {
		t.Errorf("expected retry-after within 30s, got %v", stats.RetryAfter)
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewHTTPProber(5*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := p.Probe(ctx, domain.APIConnection{Endpoint: server.URL}, "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != domain.ErrorKindTimeout {
		t.Errorf("expected timeout, got %s (%s)", res.ErrorKind, res.ErrorMessage)
	}
}

func TestHTTPProber_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewHTTPProber(2*time.Second, nil)
	res := p.Probe(context.Background(), domain.APIConnection{Endpoint: "http://" + addr}, "")
	if res.Success || res.ErrorKind != domain.ErrorKindNetwork {
		t.Errorf("expected network failure, got %+v", res)
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		endpoint, path string
		params         []domain.KeyValue
		want           string
	}{
		{"https://api.example.com", "", nil, "https://api.example.com"},
		{"https://api.example.com/", "/v1", nil, "https://api.example.com/v1"},
		{"https://api.example.com?k=1", "", []domain.KeyValue{{Key: "q", Value: "a b"}}, "https://api.example.com?k=1&q=a+b"},
	}
	for _, tt := range tests {
		got, err := BuildURL(tt.endpoint, tt.path, tt.params)
		if err != nil {
			t.Errorf("BuildURL(%s): unexpected error %v", tt.endpoint, err)
			continue
		}
		if got != tt.want {
			t.Errorf("BuildURL(%s) = %s, want %s", tt.endpoint, got, tt.want)
		}
	}
}

// =============================================================================
// WebSocket
// =============================================================================

func TestWSProber_Handshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.ReadMessage()
	}))
	defer server.Close()

	p := NewWSProber(2 * time.Second)
	conn := domain.APIConnection{
		Kind:     domain.TransportWebSocket,
		Endpoint: "ws" + strings.TrimPrefix(server.URL, "http"),
	}

	res := p.Probe(context.Background(), conn, "")
	if !res.Success {
		t.Fatalf("expected handshake success, got %+v", res)
	}
	if res.HTTPStatus != 0 {
		t.Errorf("expected no http status for websocket, got %d", res.HTTPStatus)
	}
}

func TestWSProber_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewWSProber(2 * time.Second)
	res := p.Probe(context.Background(), domain.APIConnection{
		Endpoint: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.ErrorMessage, "401") {
		t.Errorf("expected status in message, got %q", res.ErrorMessage)
	}
}

// =============================================================================
// gRPC
// =============================================================================

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("payments.v1.Payments", status)
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestGRPCProber(t *testing.T) {
	tests := []struct {
		name    string
		status  healthpb.HealthCheckResponse_ServingStatus
		success bool
	}{
		{"serving", healthpb.HealthCheckResponse_SERVING, true},
		{"not serving", healthpb.HealthCheckResponse_NOT_SERVING, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lis := startHealthServer(t, tt.status)
			p := NewGRPCProber(bufDialer(lis))

			conn := domain.APIConnection{
				Kind:     domain.TransportGRPC,
				Endpoint: "passthrough:///bufnet",
				Path:     "payments.v1.Payments",
			}
			res := p.Probe(context.Background(), conn, "tok")
			if res.Success != tt.success {
				t.Errorf("expected success=%v, got %+v", tt.success, res)
			}
		})
	}
}

func TestGRPCTarget(t *testing.T) {
	tests := []struct {
		in     string
		target string
		tls    bool
	}{
		{"grpc://localhost:50051", "localhost:50051", false},
		{"grpcs://api.example.com:8443", "api.example.com:8443", true},
		{"api.example.com:443", "api.example.com:443", true},
		{"localhost:9090", "localhost:9090", false},
	}
	for _, tt := range tests {
		target, useTLS := grpcTarget(tt.in)
		if target != tt.target || useTLS != tt.tls {
			t.Errorf("grpcTarget(%s) = (%s, %v), want (%s, %v)", tt.in, target, useTLS, tt.target, tt.tls)
		}
	}
}

// =============================================================================
// Mux & classification
// =============================================================================

type stubProber struct{ result Result }

func (s stubProber) Probe(ctx context.Context, conn domain.APIConnection, credential string) Result {
	return s.result
}

func TestMux_Dispatch(t *testing.T) {
	mux := NewMux().Handle(domain.TransportREST, stubProber{Result{Success: true}})

	if res := mux.Probe(context.Background(), domain.APIConnection{Kind: domain.TransportREST}, ""); !res.Success {
		t.Error("expected REST probe to dispatch")
	}
	res := mux.Probe(context.Background(), domain.APIConnection{Kind: domain.TransportGRPC}, "")
	if res.Success || res.ErrorKind != domain.ErrorKindConfig {
		t.Errorf("expected config failure for unregistered kind, got %+v", res)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"nil", nil, domain.ErrorKindNone},
		{"deadline", context.DeadlineExceeded, domain.ErrorKindTimeout},
		{"config", domain.ErrConfig, domain.ErrorKindConfig},
		{"other", errors.New("connection reset"), domain.ErrorKindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestToObservation(t *testing.T) {
	at := time.Now()

	ok := ToObservation("c1", at, Result{Success: true, Latency: 120 * time.Millisecond, HTTPStatus: 200, BodySize: 42})
	if ok.LatencyMs == nil || *ok.LatencyMs != 120 {
		t.Errorf("expected latency 120ms, got %v", ok.LatencyMs)
	}
	if ok.ErrorMessage != nil || ok.HTTPStatus == nil || *ok.HTTPStatus != 200 {
		t.Errorf("unexpected success observation: %+v", ok)
	}

	failed := ToObservation("c1", at, Result{ErrorKind: domain.ErrorKindTimeout, ErrorMessage: "deadline", Latency: time.Second})
	if failed.LatencyMs != nil {
		t.Error("expected no latency on failure")
	}
	if failed.HTTPStatus != nil {
		t.Error("expected no http status")
	}
	if failed.Error() != "deadline" || failed.ErrorKind != domain.ErrorKindTimeout {
		t.Errorf("unexpected failed observation: %+v", failed)
	}
}
