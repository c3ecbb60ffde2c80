package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// GRPCProber probes gRPC connections with the standard health service.
// The connection Path names the service to check; empty checks the server.
type GRPCProber struct {
	dialOpts []grpc.DialOption
}

func NewGRPCProber(opts ...grpc.DialOption) *GRPCProber {
	return &GRPCProber{dialOpts: opts}
}

// grpcTarget strips the scheme and decides whether TLS is needed.
func grpcTarget(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "grpcs://"):
		return strings.TrimPrefix(endpoint, "grpcs://"), true
	case strings.HasPrefix(endpoint, "grpc://"):
		return strings.TrimPrefix(endpoint, "grpc://"), false
	case strings.HasSuffix(endpoint, ":443"):
		return endpoint, true
	default:
		return endpoint, false
	}
}

func (p *GRPCProber) Probe(ctx context.Context, conn domain.APIConnection, credential string) Result {
	target, useTLS := grpcTarget(conn.Endpoint)

	opts := append([]grpc.DialOption(nil), p.dialOpts...)
	if useTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return Failure(fmt.Errorf("%w: grpc target %s: %v", domain.ErrConfig, target, err), 0)
	}
	defer cc.Close()

	md := metadata.MD{}
	for _, kv := range conn.Headers {
		md.Append(strings.ToLower(kv.Key), kv.Value)
	}
	if credential != "" && len(md.Get("authorization")) == 0 {
		md.Set("authorization", "Bearer "+credential)
	}
	callCtx := metadata.NewOutgoingContext(ctx, md)

	start := time.Now()
	resp, err := healthpb.NewHealthClient(cc).Check(callCtx, &healthpb.HealthCheckRequest{Service: conn.Path})
	latency := time.Since(start)
	if err != nil {
		return Failure(fmt.Errorf("health check: %w", err), latency)
	}

	state := resp.GetStatus().String()
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Result{
			Latency:      latency,
			ConnState:    state,
			ErrorKind:    domain.ErrorKindNetwork,
			ErrorMessage: "health status " + state,
		}
	}
	return Result{Success: true, Latency: latency, ConnState: state}
}
