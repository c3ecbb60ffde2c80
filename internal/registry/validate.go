package registry

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

const (
	MinPollInterval = time.Second
	MaxPollInterval = 5 * time.Minute
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Validate checks a connection spec. The first problem found is returned.
func Validate(spec domain.ConnectionSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return domain.NewValidationError("name", "must not be empty")
	}

	switch spec.Kind {
	case domain.TransportREST, domain.TransportWebSocket, domain.TransportGRPC:
	default:
		return domain.NewValidationError("kind", "unsupported transport %q", spec.Kind)
	}

	if err := validateEndpoint(spec.Kind, spec.Endpoint); err != nil {
		return err
	}

	if spec.Method != "" {
		if spec.Kind != domain.TransportREST {
			return domain.NewValidationError("method", "only REST connections take a method")
		}
		if !allowedMethods[strings.ToUpper(spec.Method)] {
			return domain.NewValidationError("method", "unsupported http method %q", spec.Method)
		}
	}

	for i, h := range spec.Headers {
		if strings.TrimSpace(h.Key) == "" {
			return domain.NewValidationError("headers", "entry %d has an empty key", i)
		}
	}
	for i, p := range spec.Params {
		if strings.TrimSpace(p.Key) == "" {
			return domain.NewValidationError("params", "entry %d has an empty key", i)
		}
	}

	if spec.PollInterval != 0 && (spec.PollInterval < MinPollInterval || spec.PollInterval > MaxPollInterval) {
		return domain.NewValidationError("pollInterval", "must be between %s and %s", MinPollInterval, MaxPollInterval)
	}

	if rl := spec.RateLimit; rl != nil {
		if rl.Limit <= 0 {
			return domain.NewValidationError("rateLimit.limit", "must be positive")
		}
		if rl.Window <= 0 {
			return domain.NewValidationError("rateLimit.window", "must be positive")
		}
	}
	return nil
}

func validateEndpoint(kind domain.TransportKind, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return domain.NewValidationError("endpoint", "must not be empty")
	}

	if kind == domain.TransportGRPC && !strings.Contains(endpoint, "://") {
		host, port, err := net.SplitHostPort(endpoint)
		if err != nil || host == "" {
			return domain.NewValidationError("endpoint", "grpc endpoint must be host:port or grpc(s)://host:port")
		}
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return domain.NewValidationError("endpoint", "invalid port %q", port)
		}
		return nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return domain.NewValidationError("endpoint", "not a valid url: %v", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return domain.NewValidationError("endpoint", "must be an absolute url")
	}

	var schemes []string
	switch kind {
	case domain.TransportREST:
		schemes = []string{"http", "https"}
	case domain.TransportWebSocket:
		schemes = []string{"ws", "wss"}
	case domain.TransportGRPC:
		schemes = []string{"grpc", "grpcs"}
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return domain.NewValidationError("endpoint", "scheme %q does not match transport %s", u.Scheme, kind)
}

// applyPatch merges a patch into a spec.
func applyPatch(spec domain.ConnectionSpec, p domain.ConnectionPatch) domain.ConnectionSpec {
	if p.Name != nil {
		spec.Name = *p.Name
	}
	if p.Kind != nil {
		spec.Kind = *p.Kind
		if p.Method == nil && !strings.EqualFold(string(spec.Kind), string(domain.TransportREST)) {
			spec.Method = ""
		}
	}
	if p.Endpoint != nil {
		spec.Endpoint = *p.Endpoint
	}
	if p.Method != nil {
		spec.Method = *p.Method
	}
	if p.Path != nil {
		spec.Path = *p.Path
	}
	if p.CredentialRef != nil {
		spec.CredentialRef = *p.CredentialRef
	}
	if p.Headers != nil {
		spec.Headers = append([]domain.KeyValue(nil), (*p.Headers)...)
	}
	if p.Params != nil {
		spec.Params = append([]domain.KeyValue(nil), (*p.Params)...)
	}
	if p.PollInterval != nil {
		spec.PollInterval = *p.PollInterval
	}
	if p.RateLimit != nil {
		if p.RateLimit.Limit == 0 && p.RateLimit.Window == 0 {
			spec.RateLimit = nil
		} else {
			rl := *p.RateLimit
			spec.RateLimit = &rl
		}
	}
	return spec
}

func specOf(c *domain.APIConnection) domain.ConnectionSpec {
	spec := domain.ConnectionSpec{
		Name:          c.Name,
		Kind:          c.Kind,
		Endpoint:      c.Endpoint,
		Method:        c.Method,
		Path:          c.Path,
		CredentialRef: c.CredentialRef,
		Headers:       append([]domain.KeyValue(nil), c.Headers...),
		Params:        append([]domain.KeyValue(nil), c.Params...),
		PollInterval:  c.PollInterval,
	}
	if c.RateLimit != nil {
		rl := *c.RateLimit
		spec.RateLimit = &rl
	}
	return spec
}
