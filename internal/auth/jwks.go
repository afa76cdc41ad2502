package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/pal/gateway/internal/claims"
	"github.com/pal/gateway/internal/config"
	"github.com/pal/gateway/internal/logging"
)

// asymmetricMethods are the signature algorithms accepted from a JWKS issuer.
var asymmetricMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// JWKSDecoder verifies tokens against a JSON Web Key Set fetched from the
// identity provider and refreshed in the background.
type JWKSDecoder struct {
	cache     *jwk.Cache
	url       string
	refresh   time.Duration
	parser    *jwt.Parser
	audiences []string
	cancel    context.CancelFunc
}

// NewJWKSDecoder registers the key set URL and starts the refresh loop. An
// unreachable identity provider at startup is logged, not fatal: keys are
// fetched again on first use.
func NewJWKSDecoder(ctx context.Context, cfg config.JWTConfig) (*JWKSDecoder, error) {
	refresh := cfg.JWKSRefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}

	cacheCtx, cancel := context.WithCancel(ctx)
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	d := &JWKSDecoder{
		cache:     cache,
		url:       cfg.JWKSURL,
		refresh:   refresh,
		parser:    jwt.NewParser(parserOptions(cfg, asymmetricMethods)...),
		audiences: cfg.Audience,
		cancel:    cancel,
	}

	if err := d.Warm(ctx, 3); err != nil {
		logging.Warn("JWKS not reachable at startup, will retry on demand",
			zap.String("jwks_url", cfg.JWKSURL),
			zap.Error(err),
		)
	}
	return d, nil
}

// Warm fetches the key set, retrying with exponential backoff up to
// maxRetries times.
func (d *JWKSDecoder) Warm(ctx context.Context, maxRetries uint64) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	return backoff.Retry(func() error {
		_, err := d.cache.Refresh(ctx, d.url)
		return err
	}, policy)
}

// Decode verifies the token signature with the key matching its kid.
func (d *JWKSDecoder) Decode(ctx context.Context, token string) (*claims.Claims, error) {
	return parse(ctx, d.parser, token, d.audiences, d.keyFunc(ctx))
}

func (d *JWKSDecoder) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		keySet, err := d.cache.Get(ctx, d.url)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}

		var key jwk.Key
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			if keySet.Len() == 0 {
				return nil, fmt.Errorf("no kid in token header and no keys in JWKS")
			}
			key, _ = keySet.Key(0)
		} else {
			var found bool
			key, found = keySet.LookupKeyID(kid)
			if !found {
				return nil, fmt.Errorf("key %q not found in JWKS", kid)
			}
		}

		var rawKey interface{}
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("failed to extract raw key for kid %q: %w", kid, err)
		}
		return rawKey, nil
	}
}

// Close stops the background refresh goroutine.
func (d *JWKSDecoder) Close() {
	d.cancel()
}
