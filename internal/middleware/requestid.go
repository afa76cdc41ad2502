package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDHeader is the header carrying the request ID.
const RequestIDHeader = "X-Request-ID"

// RequestIDConfig configures the request ID middleware
type RequestIDConfig struct {
	// Header is the header name to use for the request ID
	Header string
	// Generator generates a new request ID
	Generator func() string
	// TrustHeader trusts incoming request ID headers
	TrustHeader bool
}

// DefaultRequestIDConfig provides default request ID settings
var DefaultRequestIDConfig = RequestIDConfig{
	Header:      RequestIDHeader,
	Generator:   defaultIDGenerator,
	TrustHeader: true,
}

func defaultIDGenerator() string {
	return uuid.New().String()
}

// RequestID creates a request ID middleware with default config
func RequestID() Middleware {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig creates a request ID middleware with custom config.
// The ID is echoed on the response, forwarded upstream and recorded in the
// request info.
func RequestIDWithConfig(cfg RequestIDConfig) Middleware {
	if cfg.Header == "" {
		cfg.Header = RequestIDHeader
	}
	if cfg.Generator == nil {
		cfg.Generator = defaultIDGenerator
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var requestID string
			if cfg.TrustHeader {
				requestID = r.Header.Get(cfg.Header)
			}
			if requestID == "" {
				requestID = cfg.Generator()
			}

			r.Header.Set(cfg.Header, requestID)
			w.Header().Set(cfg.Header, requestID)

			r, info, owned := ensureInfo(r)
			info.RequestID = requestID

			next.ServeHTTP(w, r)
			if owned {
				releaseInfo(info)
			}
		})
	}
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	return InfoFromContext(r.Context()).RequestID
}
