package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pal/gateway/internal/errors"
	"github.com/pal/gateway/internal/logging"
	"github.com/pal/gateway/internal/middleware"
	"github.com/pal/gateway/internal/route"
	"github.com/pal/gateway/internal/tracing"
)

// Upstream failure kinds reported to the observer.
const (
	KindTimeout     = "timeout"
	KindUnreachable = "unreachable"
	KindCanceled    = "canceled"
)

// UpstreamObserver is told about every backend round trip. kind is empty on
// success.
type UpstreamObserver func(route string, duration time.Duration, kind string)

// Proxy forwards already-filtered requests to their route's backend.
type Proxy struct {
	transport      http.RoundTripper
	defaultTimeout time.Duration
	tracer         *tracing.Tracer
	observe        UpstreamObserver
}

// Config holds proxy configuration
type Config struct {
	Transport      http.RoundTripper
	DefaultTimeout time.Duration
	Tracer         *tracing.Tracer
	Observer       UpstreamObserver
}

// New creates a new proxy
func New(cfg Config) *Proxy {
	transport := cfg.Transport
	if transport == nil {
		transport = DefaultTransport()
	}

	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Proxy{
		transport:      transport,
		defaultTimeout: timeout,
		tracer:         cfg.Tracer,
		observe:        cfg.Observer,
	}
}

// Forward sends r to rt's backend and relays the response. r must already
// have passed through rt's filter pipeline; Forward does not apply it again.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, rt *route.Route) {
	info := middleware.InfoFromContext(r.Context())
	info.Upstream = rt.Target.Host

	// Only create a deadline if the incoming context has none.
	ctx := r.Context()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	ctx, span := p.tracer.StartSpan(ctx, "upstream "+rt.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.route", rt.Name),
			attribute.String("server.address", rt.Target.Host),
		),
	)
	defer span.End()

	pooledHeader := acquireProxyHeader()
	defer releaseProxyHeader(pooledHeader)
	proxyReq := createProxyRequest(ctx, r, rt.TargetURL(r), pooledHeader)

	start := time.Now()
	resp, err := p.transport.RoundTrip(proxyReq)
	duration := time.Since(start)

	if err != nil {
		kind := classify(ctx, r.Context(), err)
		p.record(rt.Name, duration, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		p.handleError(w, r, rt, err, kind)
		return
	}
	defer resp.Body.Close()
	p.record(rt.Name, duration, "")

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	copyBody(w, resp)
}

func (p *Proxy) record(routeName string, d time.Duration, kind string) {
	if p.observe != nil {
		p.observe(routeName, d, kind)
	}
}

// classify maps a round-trip error to a failure kind. ctx is the upstream
// context, clientCtx the inbound request context.
func classify(ctx, clientCtx context.Context, err error) string {
	switch {
	case stderrors.Is(clientCtx.Err(), context.Canceled):
		return KindCanceled
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}

var proxyHeaderPool = sync.Pool{
	New: func() any { return make(http.Header, 16) },
}

func acquireProxyHeader() http.Header {
	h := proxyHeaderPool.Get().(http.Header)
	clear(h)
	return h
}

func releaseProxyHeader(h http.Header) {
	if h == nil {
		return
	}
	// Only return reasonably-sized maps to avoid holding oversized maps
	if len(h) <= 64 {
		proxyHeaderPool.Put(h)
	}
}

// createProxyRequest builds the outbound request. ctx is attached directly.
// If header is non-nil it is reused (caller owns pool lifecycle).
func createProxyRequest(ctx context.Context, r *http.Request, target *url.URL, header http.Header) *http.Request {
	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)

	if header != nil {
		proxyReq.Header = header
	} else {
		proxyReq.Header = make(http.Header, len(r.Header)+3)
	}
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	removeConnectionHeaders(proxyReq.Header)
	removeHopHeaders(proxyReq.Header)

	if clientIP := remoteIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	tracing.InjectHeaders(ctx, proxyReq.Header)

	return proxyReq
}

// handleError writes the client-facing error for a failed round trip.
func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, rt *route.Route, err error, kind string) {
	requestID := middleware.InfoFromContext(r.Context()).RequestID

	logging.Warn("Upstream request failed",
		zap.String("route", rt.Name),
		zap.String("upstream", rt.Target.Host),
		zap.String("kind", kind),
		zap.String("request_id", requestID),
		zap.Error(err),
	)

	if kind == KindTimeout {
		errors.ErrGatewayTimeout.WithRequestID(requestID).WriteJSON(w)
		return
	}
	errors.ErrBadGateway.WithRequestID(requestID).WriteJSON(w)
}

// copyHeaders copies response headers, dropping hop-by-hop ones.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeConnectionHeaders(dst)
	removeHopHeaders(dst)
}

// copyBody relays the response body. Streaming responses are flushed after
// every read so events reach the client without buffering.
func copyBody(w http.ResponseWriter, resp *http.Response) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush || !isStreaming(resp) {
		io.Copy(w, resp.Body)
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			return
		}
	}
}

func isStreaming(resp *http.Response) bool {
	if resp.ContentLength == -1 {
		return true
	}
	ct := resp.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "text/event-stream")
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// removeConnectionHeaders drops headers named in the Connection header.
func removeConnectionHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
}

// remoteIP returns the host part of the connection's remote address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
