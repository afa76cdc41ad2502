package middleware

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pal/gateway/internal/logging"
)

var loggingRWPool = sync.Pool{
	New: func() any { return &loggingResponseWriter{} },
}

// LoggingConfig configures the access log middleware
type LoggingConfig struct {
	// SkipPaths are paths that should not be logged
	SkipPaths []string
	// Logger overrides the global logger
	Logger *zap.Logger
}

// DefaultLoggingConfig skips the liveness probe.
var DefaultLoggingConfig = LoggingConfig{
	SkipPaths: []string{"/actuator/health"},
}

// Logging creates an access log middleware with default config
func Logging() Middleware {
	return LoggingWithConfig(DefaultLoggingConfig)
}

// LoggingWithConfig creates an access log middleware with custom config.
// The Authorization header is never logged.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			r, info, owned := ensureInfo(r)

			lrw := loggingRWPool.Get().(*loggingResponseWriter)
			lrw.ResponseWriter = w
			lrw.status = http.StatusOK
			lrw.bytes = 0

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)

			// Stack-allocated array avoids slice growth allocations.
			var fields [12]zap.Field
			n := 0
			fields[n] = zap.String("request_id", info.RequestID); n++
			fields[n] = zap.String("remote_addr", clientIP(r)); n++
			fields[n] = zap.String("method", r.Method); n++
			fields[n] = zap.String("path", r.URL.Path); n++
			fields[n] = zap.Int("status", lrw.status); n++
			fields[n] = zap.Int64("body_bytes", lrw.bytes); n++
			fields[n] = zap.Duration("response_time", duration); n++
			if r.URL.RawQuery != "" {
				fields[n] = zap.String("query", r.URL.RawQuery); n++
			}
			if info.Route != "" {
				fields[n] = zap.String("route", info.Route); n++
			}
			if info.Upstream != "" {
				fields[n] = zap.String("upstream_addr", info.Upstream); n++
			}
			if info.Subject != "" {
				fields[n] = zap.String("user_id", info.Subject); n++
			}
			if ua := r.UserAgent(); ua != "" {
				fields[n] = zap.String("user_agent", ua); n++
			}

			if cfg.Logger != nil {
				cfg.Logger.Info("HTTP request", fields[:n]...)
			} else {
				logging.Info("HTTP request", fields[:n]...)
			}

			lrw.ResponseWriter = nil
			loggingRWPool.Put(lrw)
			if owned {
				releaseInfo(info)
			}
		})
	}
}

// clientIP returns the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes
type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	if !lrw.wroteHeader {
		lrw.status = status
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
