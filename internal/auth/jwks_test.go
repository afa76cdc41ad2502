package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/pal/gateway/internal/claims"
	"github.com/pal/gateway/internal/config"
)

func serveJWKS(t *testing.T, key ecdsa.PublicKey, kid string) *httptest.Server {
	t.Helper()

	jwkKey, err := jwk.FromRaw(&key)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	jwkKey.Set(jwk.KeyIDKey, kid)
	jwkKey.Set(jwk.AlgorithmKey, "ES256")

	set := jwk.NewSet()
	set.AddKey(jwkKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signES256(t *testing.T, key *ecdsa.PrivateKey, kid string, c *claims.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, c)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func newJWKS(t *testing.T, cfg config.JWTConfig) *JWKSDecoder {
	t.Helper()
	d, err := NewJWKSDecoder(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewJWKSDecoder() error: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestJWKSDecoder_WithKid(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	srv := serveJWKS(t, key.PublicKey, "my-key")

	d := newJWKS(t, config.JWTConfig{JWKSURL: srv.URL, Issuer: "https://idp"})

	token := signES256(t, key, "my-key", &claims.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		ResourceAccess: map[string]claims.Access{"web": {Roles: []string{"viewer"}}},
	})

	c, err := d.Decode(context.Background(), token)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if c.Subject != "user-1" {
		t.Errorf("expected subject user-1, got %q", c.Subject)
	}
	if got := c.ResourceAccess["web"].Roles; len(got) != 1 || got[0] != "viewer" {
		t.Errorf("unexpected resource_access roles %v", got)
	}
}

func TestJWKSDecoder_NoKidUsesFirstKey(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	srv := serveJWKS(t, key.PublicKey, "only-key")
	d := newJWKS(t, config.JWTConfig{JWKSURL: srv.URL})

	token := signES256(t, key, "", &claims.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	if _, err := d.Decode(context.Background(), token); err != nil {
		t.Errorf("Decode() error: %v", err)
	}
}

func TestJWKSDecoder_Rejects(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	otherKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	srv := serveJWKS(t, key.PublicKey, "my-key")
	d := newJWKS(t, config.JWTConfig{JWKSURL: srv.URL, Issuer: "https://idp"})

	future := jwt.NewNumericDate(time.Now().Add(time.Minute))
	past := jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name  string
		token string
	}{
		{"unknown kid", signES256(t, key, "rotated-away", &claims.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://idp", ExpiresAt: future},
		})},
		{"expired", signES256(t, key, "my-key", &claims.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://idp", ExpiresAt: past},
		})},
		{"wrong issuer", signES256(t, key, "my-key", &claims.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://elsewhere", ExpiresAt: future},
		})},
		{"wrong key", signES256(t, otherKey, "my-key", &claims.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://idp", ExpiresAt: future},
		})},
		{"hmac token", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://idp", ExpiresAt: future},
			}).SignedString([]byte("secret"))
			return s
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(context.Background(), tt.token); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewJWKSDecoder_UnreachableIsNotFatal(t *testing.T) {
	d, err := NewJWKSDecoder(context.Background(), config.JWTConfig{
		JWKSURL: "http://127.0.0.1:1/certs",
	})
	if err != nil {
		t.Fatalf("startup must tolerate an unreachable key set: %v", err)
	}
	defer d.Close()

	if d.refresh != time.Hour {
		t.Errorf("expected default refresh 1h, got %v", d.refresh)
	}

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	token := signES256(t, key, "k", &claims.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	if _, err := d.Decode(context.Background(), token); err == nil {
		t.Error("expected decode failure while the key set is unreachable")
	}
}
