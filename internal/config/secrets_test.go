package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnvProvider_Resolve(t *testing.T) {
	t.Setenv("TEST_SECRET_VAL", "s3cret")

	p := &EnvProvider{}
	got, err := p.Resolve(context.Background(), "TEST_SECRET_VAL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("got %q, want %q", got, "s3cret")
	}

	if _, err := p.Resolve(context.Background(), "DEFINITELY_NOT_SET_XYZ_42"); err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestFileProvider_Resolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(path, []byte("file-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := &FileProvider{}
	got, err := p.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file-secret" {
		t.Fatalf("got %q, want %q", got, "file-secret")
	}

	if _, err := p.Resolve(context.Background(), filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileProvider_AllowedPrefixes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	os.WriteFile(path, []byte("ok"), 0o600)

	p := &FileProvider{AllowedPrefixes: []string{dir}}
	if _, err := p.Resolve(context.Background(), path); err != nil {
		t.Fatalf("expected success: %v", err)
	}

	p2 := &FileProvider{AllowedPrefixes: []string{"/other/prefix"}}
	if _, err := p2.Resolve(context.Background(), path); err == nil {
		t.Fatal("expected error for disallowed prefix")
	}
}

func TestLoaderParse_SecretRefs(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api-key")
	os.WriteFile(keyFile, []byte("k-123\n"), 0o600)
	t.Setenv("TEST_JWT_SECRET", "from-env")

	cfg, err := NewLoader().Parse([]byte(`
auth:
  jwt:
    secret: ${env:TEST_JWT_SECRET}
services:
  orders:
    url: http://orders:8080
    headers:
      X-Api-Key: ${file:` + keyFile + `}
      X-Plain: literal
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Auth.JWT.Secret != "from-env" {
		t.Errorf("expected secret from env provider, got %q", cfg.Auth.JWT.Secret)
	}
	if got := cfg.Services[0].Headers["X-Api-Key"]; got != "k-123" {
		t.Errorf("expected header from file provider, got %q", got)
	}
	if got := cfg.Services[0].Headers["X-Plain"]; got != "literal" {
		t.Errorf("expected literal header untouched, got %q", got)
	}
}

func TestLoaderParse_UnknownSecretScheme(t *testing.T) {
	_, err := NewLoader().Parse([]byte(`
auth:
  jwt:
    secret: ${vault:secret/data/jwt}
services:
  orders:
    url: http://orders:8080
`))
	if err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	if !strings.Contains(err.Error(), "Auth.JWT.Secret") {
		t.Errorf("expected field path in error, got %v", err)
	}
}

type staticProvider map[string]string

func (p staticProvider) Scheme() string { return "static" }

func (p staticProvider) Resolve(_ context.Context, ref string) (string, error) {
	return p[ref], nil
}

func TestLoader_RegisterSecretProvider(t *testing.T) {
	l := NewLoader()
	l.RegisterSecretProvider(staticProvider{"jwt": "registered"})

	cfg, err := l.Parse([]byte(`
auth:
  jwt:
    secret: ${static:jwt}
services:
  orders:
    url: http://orders:8080
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Auth.JWT.Secret != "registered" {
		t.Errorf("got %q", cfg.Auth.JWT.Secret)
	}
}
