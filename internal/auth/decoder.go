package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pal/gateway/internal/claims"
	"github.com/pal/gateway/internal/config"
)

// ErrInvalidToken wraps every decode failure. Callers only ever need to know
// that decoding failed; the wrapped cause is for logs.
var ErrInvalidToken = errors.New("invalid token")

// Decoder verifies a raw bearer token and returns its claims.
type Decoder interface {
	Decode(ctx context.Context, token string) (*claims.Claims, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, token string) (*claims.Claims, error)

// Decode calls f(ctx, token).
func (f DecoderFunc) Decode(ctx context.Context, token string) (*claims.Claims, error) {
	return f(ctx, token)
}

// NewDecoder builds the decoder selected by the JWT configuration: a JWKS
// decoder when jwks_url is set, otherwise an HMAC decoder.
func NewDecoder(ctx context.Context, cfg config.JWTConfig) (Decoder, error) {
	if cfg.JWKSURL != "" {
		return NewJWKSDecoder(ctx, cfg)
	}
	return NewHMACDecoder(cfg)
}

// parserOptions returns the validation options shared by all decoders.
func parserOptions(cfg config.JWTConfig, methods []string) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return opts
}

// parse runs the jwt parser into typed claims and normalizes the error. When
// audiences is non-empty the token must name at least one of them.
func parse(ctx context.Context, parser *jwt.Parser, token string, audiences []string, keyFunc jwt.Keyfunc) (*claims.Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c := &claims.Claims{}
	parsed, err := parser.ParseWithClaims(token, c, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}
	if len(audiences) > 0 && !containsAny(c.Audience, audiences) {
		return nil, fmt.Errorf("%w: audience not accepted", ErrInvalidToken)
	}
	return c, nil
}

func containsAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// HMACDecoder verifies tokens signed with a shared secret.
type HMACDecoder struct {
	secret    []byte
	method    jwt.SigningMethod
	parser    *jwt.Parser
	audiences []string
}

// NewHMACDecoder creates a decoder for HS256/HS384/HS512 tokens.
func NewHMACDecoder(cfg config.JWTConfig) (*HMACDecoder, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("hmac decoder: secret is required")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("hmac decoder: unsupported algorithm %s", alg)
	}

	return &HMACDecoder{
		secret:    []byte(cfg.Secret),
		method:    method,
		parser:    jwt.NewParser(parserOptions(cfg, []string{alg})...),
		audiences: cfg.Audience,
	}, nil
}

// Decode verifies the token signature and registered claims.
func (d *HMACDecoder) Decode(ctx context.Context, token string) (*claims.Claims, error) {
	return parse(ctx, d.parser, token, d.audiences, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return d.secret, nil
	})
}

// Sign issues a token with the decoder's secret. Used by tests and tooling.
func (d *HMACDecoder) Sign(c jwt.Claims, ttl time.Duration) (string, error) {
	if rc, ok := c.(*claims.Claims); ok && rc.ExpiresAt == nil && ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(d.method, c).SignedString(d.secret)
}
