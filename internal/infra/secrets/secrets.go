// Package secrets resolves credential references into the values sent on the wire.
//
// A reference names where the credential lives, never the credential itself:
//
//	env:PAYMENTS_TOKEN   read from the process environment
//	enc:<base64>         AES-GCM sealed value, opened with the configured key
//
// Resolved values are handed straight to the prober and never stored or logged.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

var (
	// ErrUnknownScheme is returned when no resolver handles a reference.
	ErrUnknownScheme = errors.New("unknown credential scheme")

	// ErrNotFound is returned when a reference points at nothing.
	ErrNotFound = errors.New("credential not found")
)

// Resolver turns a credential reference into a secret value.
type Resolver interface {
	Resolve(ctx context.Context, ref domain.Secret) (string, error)
}

// resolveError marks every failure as a config error.
func resolveError(ref domain.Secret, err error) error {
	return fmt.Errorf("%w: resolve credential %s: %w", domain.ErrConfig, scheme(ref), err)
}

func scheme(ref domain.Secret) string {
	raw := ref.Reveal()
	if i := strings.IndexByte(raw, ':'); i > 0 {
		return raw[:i]
	}
	return "literal"
}

// EnvResolver reads env:NAME references.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) Resolve(ctx context.Context, ref domain.Secret) (string, error) {
	name, ok := strings.CutPrefix(ref.Reveal(), "env:")
	if !ok {
		return "", resolveError(ref, ErrUnknownScheme)
	}
	value, found := r.lookup(strings.TrimSpace(name))
	if !found || value == "" {
		return "", resolveError(ref, ErrNotFound)
	}
	return value, nil
}

// StaticResolver serves references from an in-memory table.
type StaticResolver struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStaticResolver(values map[string]string) *StaticResolver {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &StaticResolver{values: cp}
}

// Set adds or replaces a reference.
func (r *StaticResolver) Set(ref, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[ref] = value
}

func (r *StaticResolver) Resolve(ctx context.Context, ref domain.Secret) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.values[ref.Reveal()]
	if !ok {
		return "", resolveError(ref, ErrNotFound)
	}
	return value, nil
}

// ChainResolver picks a resolver by reference scheme.
type ChainResolver struct {
	schemes  map[string]Resolver
	fallback Resolver
}

// NewChainResolver builds a chain. fallback handles references without a
// registered scheme and may be nil.
func NewChainResolver(fallback Resolver) *ChainResolver {
	return &ChainResolver{schemes: make(map[string]Resolver), fallback: fallback}
}

// Register binds a scheme (without colon) to a resolver.
func (c *ChainResolver) Register(scheme string, r Resolver) *ChainResolver {
	c.schemes[scheme] = r
	return c
}

func (c *ChainResolver) Resolve(ctx context.Context, ref domain.Secret) (string, error) {
	if r, ok := c.schemes[scheme(ref)]; ok {
		return r.Resolve(ctx, ref)
	}
	if c.fallback != nil {
		return c.fallback.Resolve(ctx, ref)
	}
	return "", resolveError(ref, ErrUnknownScheme)
}

// Redact masks a secret value for display, keeping only its last four characters.
func Redact(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
