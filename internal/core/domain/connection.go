package domain

import (
	"log/slog"
	"time"
)

// TransportKind identifies how a connection is probed.
type TransportKind string

const (
	TransportREST      TransportKind = "REST"
	TransportWebSocket TransportKind = "WEBSOCKET"
	TransportGRPC      TransportKind = "GRPC"
)

// ConnectionStatus is the lifecycle status of a monitored API.
type ConnectionStatus string

const (
	StatusUnknown      ConnectionStatus = "unknown"
	StatusTesting      ConnectionStatus = "testing"
	StatusConnected    ConnectionStatus = "connected"
	StatusWarning      ConnectionStatus = "warning"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// KeyValue is an ordered header or query parameter entry.
type KeyValue struct {
	Key   string `json:"key"   yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// RateLimitQuota is the provider-declared request quota of a connection.
type RateLimitQuota struct {
	Limit  int           `json:"limit"  yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

// APIConnection is a configured external API endpoint being monitored.
type APIConnection struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Kind          TransportKind    `json:"kind"`
	Endpoint      string           `json:"endpoint"`
	Method        string           `json:"method,omitempty"`
	Path          string           `json:"path,omitempty"`
	CredentialRef Secret           `json:"-"`
	Headers       []KeyValue       `json:"headers"`
	Params        []KeyValue       `json:"params"`
	PollInterval  time.Duration    `json:"pollInterval,omitempty"`
	RateLimit     *RateLimitQuota  `json:"rateLimit,omitempty"`
	Status        ConnectionStatus `json:"status"`
	LastLatency   time.Duration    `json:"lastLatency"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	ErrorLog      *ErrorLog        `json:"errorLog"`
}

// HasCredential reports whether a credential reference is configured.
func (c *APIConnection) HasCredential() bool {
	return c.CredentialRef != ""
}

// Clone returns a deep copy safe to hand to callers.
func (c *APIConnection) Clone() APIConnection {
	out := *c
	out.Headers = append([]KeyValue(nil), c.Headers...)
	out.Params = append([]KeyValue(nil), c.Params...)
	if c.RateLimit != nil {
		rl := *c.RateLimit
		out.RateLimit = &rl
	}
	out.ErrorLog = c.ErrorLog.Clone()
	return out
}

// LogValue keeps credentials out of structured logs.
func (c APIConnection) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("name", c.Name),
		slog.String("kind", string(c.Kind)),
		slog.String("endpoint", c.Endpoint),
		slog.String("status", string(c.Status)),
	)
}

// ConnectionSpec is the user-supplied definition of a connection.
type ConnectionSpec struct {
	Name          string          `json:"name"          yaml:"name"`
	Kind          TransportKind   `json:"kind"          yaml:"kind"`
	Endpoint      string          `json:"endpoint"      yaml:"endpoint"`
	Method        string          `json:"method"        yaml:"method"`
	Path          string          `json:"path"          yaml:"path"`
	CredentialRef Secret          `json:"credentialRef" yaml:"credential_ref"`
	Headers       []KeyValue      `json:"headers"       yaml:"headers"`
	Params        []KeyValue      `json:"params"        yaml:"params"`
	PollInterval  time.Duration   `json:"pollInterval"  yaml:"poll_interval"`
	RateLimit     *RateLimitQuota `json:"rateLimit"     yaml:"rate_limit"`
}

// ConnectionPatch carries a partial update. Nil fields are left unchanged.
type ConnectionPatch struct {
	Name          *string         `json:"name"`
	Kind          *TransportKind  `json:"kind"`
	Endpoint      *string         `json:"endpoint"`
	Method        *string         `json:"method"`
	Path          *string         `json:"path"`
	CredentialRef *Secret         `json:"credentialRef"`
	Headers       *[]KeyValue     `json:"headers"`
	Params        *[]KeyValue     `json:"params"`
	PollInterval  *time.Duration  `json:"pollInterval"`
	RateLimit     *RateLimitQuota `json:"rateLimit"`
}

// Secret is an opaque credential reference. It never prints its value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the raw reference for the secret resolver.
func (s Secret) Reveal() string {
	return string(s)
}
