package secrets

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

func TestEnvResolver(t *testing.T) {
	r := &EnvResolver{lookup: func(name string) (string, bool) {
		if name == "TOKEN" {
			return "s3cr3t", true
		}
		return "", false
	}}

	got, err := r.Resolve(context.Background(), "env:TOKEN")
	if err != nil || got != "s3cr3t" {
		t.Fatalf("expected s3cr3t, got %q (err=%v)", got, err)
	}

	_, err = r.Resolve(context.Background(), "env:MISSING")
	if !errors.Is(err, domain.ErrConfig) || !errors.Is(err, ErrNotFound) {
		t.Errorf("expected config/not found error, got %v", err)
	}
}

func TestEncryptedResolver_SealAndResolve(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	r, err := NewEncryptedResolver(key)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	ref, err := r.Seal("bearer-token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(ref.Reveal(), "enc:") || strings.Contains(ref.Reveal(), "bearer-token") {
		t.Fatalf("unexpected sealed reference")
	}

	got, err := r.Resolve(context.Background(), ref)
	if err != nil || got != "bearer-token" {
		t.Errorf("expected round trip, got %q (err=%v)", got, err)
	}

	other, _ := NewEncryptedResolver(bytes.Repeat([]byte{8}, 32))
	if _, err := other.Resolve(context.Background(), ref); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected config error with wrong key, got %v", err)
	}
}

func TestEncryptedResolver_KeyLength(t *testing.T) {
	if _, err := NewEncryptedResolver([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestChainResolver(t *testing.T) {
	static := NewStaticResolver(map[string]string{"literal-ref": "v1"})
	env := &EnvResolver{lookup: func(string) (string, bool) { return "v2", true }}
	chain := NewChainResolver(static).Register("env", env)

	tests := []struct {
		ref  domain.Secret
		want string
	}{
		{"literal-ref", "v1"},
		{"env:ANY", "v2"},
	}
	for _, tt := range tests {
		got, err := chain.Resolve(context.Background(), tt.ref)
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%s): expected %s, got %q (err=%v)", tt.ref.Reveal(), tt.want, got, err)
		}
	}

	if _, err := NewChainResolver(nil).Resolve(context.Background(), "vault:x"); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("abcdefgh"); got != "****efgh" {
		t.Errorf("expected ****efgh, got %s", got)
	}
	if got := Redact("abc"); got != "***" {
		t.Errorf("expected ***, got %s", got)
	}
}
