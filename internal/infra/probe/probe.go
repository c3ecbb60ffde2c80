// Package probe implements the transport probes run against monitored APIs.
//
// This package contains:
//   - Prober interface: one round trip against a connection
//   - HTTPProber: REST over net/http
//   - WSProber: WebSocket handshake
//   - GRPCProber: grpc.health.v1 Check
//   - Mux: dispatch by transport kind
//   - ThrottleMonitor: 429/403 and throttle pattern tracking
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// MaxBodyBytes bounds the response body kept for field mapping.
const MaxBodyBytes = 1 << 20

// Result is the raw outcome of one probe.
type Result struct {
	Success      bool
	Latency      time.Duration
	HTTPStatus   int // 0 when the transport has no status code
	ConnState    string
	ErrorMessage string
	ErrorKind    domain.ErrorKind
	BodySize     int64
	Body         []byte
}

// Prober performs one request against a connection. credential is the
// resolved secret, empty when the connection has none.
type Prober interface {
	Probe(ctx context.Context, conn domain.APIConnection, credential string) Result
}

// Failure builds a failed result classified from err.
func Failure(err error, latency time.Duration) Result {
	return Result{
		Latency:      latency,
		ErrorMessage: err.Error(),
		ErrorKind:    ClassifyError(err),
	}
}

// ClassifyError maps a transport error to an error kind.
func ClassifyError(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindNone
	}
	if errors.Is(err, domain.ErrConfig) {
		return domain.ErrorKindConfig
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorKindTimeout
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.DeadlineExceeded {
		return domain.ErrorKindTimeout
	}
	return domain.ErrorKindNetwork
}

// ToObservation converts a result into the immutable observation record.
// Latency is only recorded for successful probes.
func ToObservation(connectionID string, at time.Time, r Result) domain.Observation {
	obs := domain.Observation{
		ConnectionID:     connectionID,
		Timestamp:        at,
		Success:          r.Success,
		PayloadSizeBytes: r.BodySize,
	}
	if r.Success {
		ms := float64(r.Latency) / float64(time.Millisecond)
		obs.LatencyMs = &ms
	} else {
		msg := r.ErrorMessage
		if msg == "" {
			msg = "probe failed"
		}
		obs.ErrorMessage = &msg
		obs.ErrorKind = r.ErrorKind
		if obs.ErrorKind == domain.ErrorKindNone {
			obs.ErrorKind = domain.ErrorKindNetwork
		}
	}
	if r.HTTPStatus > 0 {
		code := r.HTTPStatus
		obs.HTTPStatus = &code
	}
	return obs
}

// Mux dispatches probes by transport kind.
type Mux struct {
	probers map[domain.TransportKind]Prober
}

func NewMux() *Mux {
	return &Mux{probers: make(map[domain.TransportKind]Prober)}
}

// Handle registers a prober for a transport kind.
func (m *Mux) Handle(kind domain.TransportKind, p Prober) *Mux {
	m.probers[kind] = p
	return m
}

func (m *Mux) Probe(ctx context.Context, conn domain.APIConnection, credential string) Result {
	p, ok := m.probers[conn.Kind]
	if !ok {
		return Failure(fmt.Errorf("%w: no prober for transport %q", domain.ErrConfig, conn.Kind), 0)
	}
	return p.Probe(ctx, conn, credential)
}
