package middleware

import (
	"context"
	"net/http"
	"sync"
)

// RequestInfo carries per-request values that inner handlers fill in and the
// access log reads back once the response is written.
type RequestInfo struct {
	RequestID string
	Route     string
	Subject   string
	Upstream  string
}

type requestInfoKey struct{}

var infoPool = sync.Pool{
	New: func() any { return &RequestInfo{} },
}

func acquireInfo() *RequestInfo {
	return infoPool.Get().(*RequestInfo)
}

func releaseInfo(info *RequestInfo) {
	*info = RequestInfo{}
	infoPool.Put(info)
}

// WithInfo returns a context carrying info.
func WithInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// InfoFromContext returns the request info stored in ctx. A detached
// placeholder is returned when none was attached, so callers may write to it
// unconditionally.
func InfoFromContext(ctx context.Context) *RequestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*RequestInfo); ok {
		return info
	}
	return &RequestInfo{}
}

// ensureInfo returns the request info attached to r, attaching a pooled one
// when missing. owned reports whether the caller must release it.
func ensureInfo(r *http.Request) (req *http.Request, info *RequestInfo, owned bool) {
	if info, ok := r.Context().Value(requestInfoKey{}).(*RequestInfo); ok {
		return r, info, false
	}
	info = acquireInfo()
	return r.WithContext(WithInfo(r.Context(), info)), info, true
}
