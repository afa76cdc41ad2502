package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pal/gateway/internal/claims"
	"github.com/pal/gateway/internal/logging"
	"github.com/pal/gateway/internal/middleware"
	"github.com/pal/gateway/internal/route"
)

// Identity headers set on every authenticated request.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserRoles = "X-User-Roles"
)

const bearerPrefix = "Bearer "

// DefaultPublicPaths are path prefixes reachable without a token.
var DefaultPublicPaths = []string{
	"/api/public",
	"/actuator/health",
	"/actuator/info",
}

// FailureObserver is notified of every rejected request. reason is a short
// machine-readable label such as "missing_token" or "invalid_token".
type FailureObserver func(reason string)

// GateConfig configures the authentication gate.
type GateConfig struct {
	Decoder     Decoder
	PublicPaths []string
	OnFailure   FailureObserver
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Identity    claims.Identity
	Authorities []string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, or nil for public
// requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// IsPublic reports whether path starts with one of the public prefixes.
// Paths carrying dot segments or empty segments are never public, so
// /api/public/../admin cannot borrow the exemption.
func IsPublic(path string, prefixes []string) bool {
	if !route.IsCanonical(path) {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Gate returns the authentication middleware. Public paths pass through
// untouched. Every other request must carry a valid bearer token; on
// success the identity headers replace whatever the client sent, on failure
// the response is 401 with an empty body.
func Gate(cfg GateConfig) middleware.Middleware {
	public := cfg.PublicPaths
	if public == nil {
		public = DefaultPublicPaths
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				reject(w, r, cfg.OnFailure, "missing_token", nil)
				return
			}

			c, err := cfg.Decoder.Decode(r.Context(), header[len(bearerPrefix):])
			if err != nil {
				reject(w, r, cfg.OnFailure, "invalid_token", err)
				return
			}

			principal := &Principal{
				Identity:    claims.IdentityFrom(c),
				Authorities: claims.Authorities(c),
			}
			middleware.InfoFromContext(r.Context()).Subject = principal.Identity.Subject

			out := r.WithContext(WithPrincipal(r.Context(), principal))
			out.Header = r.Header.Clone()
			SetIdentityHeaders(out.Header, principal.Identity)

			next.ServeHTTP(w, out)
		})
	}
}

// SetIdentityHeaders writes the identity headers, replacing client values.
// The email header is removed when the token has no email claim.
func SetIdentityHeaders(h http.Header, id claims.Identity) {
	h.Set(HeaderUserID, id.Subject)
	if id.Email != "" {
		h.Set(HeaderUserEmail, id.Email)
	} else {
		h.Del(HeaderUserEmail)
	}
	h.Set(HeaderUserName, id.Username)
	h.Set(HeaderUserRoles, strings.Join(id.Roles, ","))
}

func reject(w http.ResponseWriter, r *http.Request, observe FailureObserver, reason string, err error) {
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.InfoFromContext(r.Context()).RequestID),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logging.Debug("Authentication failed", fields...)

	if observe != nil {
		observe(reason)
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
}
