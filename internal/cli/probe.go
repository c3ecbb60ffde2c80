package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/core/status"
	"github.com/vietddude/apiwatch/internal/infra/probe"
	"github.com/vietddude/apiwatch/internal/infra/secrets"
	"github.com/vietddude/apiwatch/internal/poller"
	"github.com/vietddude/apiwatch/internal/registry"
)

var probeFlags struct {
	kind       string
	method     string
	path       string
	headers    []string
	credential string
	timeout    time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe [endpoint]",
	Short: "Probe an endpoint once and print the observation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging("warn", "")
		spec, err := probeSpec(args[0])
		if err != nil {
			slog.Error("Invalid probe", "error", err)
			os.Exit(1)
		}
		if err := runProbe(cmd.Context(), os.Stdout, spec, probeFlags.timeout); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeFlags.kind, "kind", string(domain.TransportREST), "transport: REST, WEBSOCKET or GRPC")
	f.StringVar(&probeFlags.method, "method", "", "HTTP method (REST only)")
	f.StringVar(&probeFlags.path, "path", "", "path appended to the endpoint")
	f.StringArrayVarP(&probeFlags.headers, "header", "H", nil, `request header as "Key: Value"`)
	f.StringVar(&probeFlags.credential, "credential", "", "credential reference, e.g. env:API_TOKEN")
	f.DurationVar(&probeFlags.timeout, "timeout", poller.DefaultTimeout, "probe timeout")
	rootCmd.AddCommand(probeCmd)
}

func probeSpec(endpoint string) (domain.ConnectionSpec, error) {
	spec := domain.ConnectionSpec{
		Name:          "probe",
		Kind:          domain.TransportKind(strings.ToUpper(probeFlags.kind)),
		Endpoint:      endpoint,
		Method:        probeFlags.method,
		Path:          probeFlags.path,
		CredentialRef: domain.Secret(probeFlags.credential),
	}
	for _, h := range probeFlags.headers {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return spec, fmt.Errorf("header %q is not Key: Value", h)
		}
		spec.Headers = append(spec.Headers, domain.KeyValue{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return spec, registry.Validate(spec)
}

// runProbe performs one probe through the same transports as the poller. It
// returns an error when the probe failed.
func runProbe(ctx context.Context, w io.Writer, spec domain.ConnectionSpec, timeout time.Duration) error {
	conn := domain.APIConnection{
		ID:            "probe",
		Name:          spec.Name,
		Kind:          spec.Kind,
		Endpoint:      spec.Endpoint,
		Method:        spec.Method,
		Path:          spec.Path,
		CredentialRef: spec.CredentialRef,
		Headers:       spec.Headers,
		Params:        spec.Params,
	}

	var credential string
	if conn.HasCredential() {
		var err error
		credential, err = secrets.NewChainResolver(nil).
			Register("env", secrets.NewEnvResolver()).
			Resolve(ctx, conn.CredentialRef)
		if err != nil {
			_, _ = fmt.Fprintf(w, "credential: %v\n", err)
			return err
		}
	}

	mux := probe.NewMux().
		Handle(domain.TransportREST, probe.NewHTTPProber(timeout, nil)).
		Handle(domain.TransportWebSocket, probe.NewWSProber(timeout)).
		Handle(domain.TransportGRPC, probe.NewGRPCProber())

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result := mux.Probe(probeCtx, conn, credential)
	obs := probe.ToObservation(conn.ID, time.Now(), result)

	_, _ = fmt.Fprintf(w, "endpoint:  %s\n", conn.Endpoint)
	_, _ = fmt.Fprintf(w, "status:    %s\n", status.Resolve(obs, poller.DefaultWarnThreshold))
	if obs.HTTPStatus != nil {
		_, _ = fmt.Fprintf(w, "http:      %d\n", *obs.HTTPStatus)
	}
	if obs.Success {
		_, _ = fmt.Fprintf(w, "latency:   %s\n", obs.Latency().Round(time.Millisecond))
		_, _ = fmt.Fprintf(w, "payload:   %d bytes\n", obs.PayloadSizeBytes)
		return nil
	}
	_, _ = fmt.Fprintf(w, "error:     %s (%s)\n", obs.Error(), obs.ErrorKind)
	return &domain.ProbeError{ConnectionID: conn.ID, Kind: obs.ErrorKind, Message: obs.Error(), Observation: obs}
}
