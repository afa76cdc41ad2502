package gateway

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pal/gateway/internal/auth"
	"github.com/pal/gateway/internal/claims"
	"github.com/pal/gateway/internal/config"
	"github.com/pal/gateway/internal/errors"
	"github.com/pal/gateway/internal/logging"
	"github.com/pal/gateway/internal/metrics"
	"github.com/pal/gateway/internal/middleware"
	"github.com/pal/gateway/internal/proxy"
	"github.com/pal/gateway/internal/route"
	"github.com/pal/gateway/internal/tracing"
)

// Gateway is the main API gateway handler
type Gateway struct {
	config    *config.Config
	build     BuildInfo
	table     *route.Table
	decoder   auth.Decoder
	proxy     *proxy.Proxy
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	transport *http.Transport
	handler   http.Handler
}

// Option customizes a Gateway at construction.
type Option func(*Gateway)

// WithDecoder replaces the decoder built from the auth configuration.
func WithDecoder(d auth.Decoder) Option {
	return func(g *Gateway) { g.decoder = d }
}

// WithTracer installs a tracer instead of building one from configuration.
func WithTracer(t *tracing.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// WithBuildInfo sets the metadata reported by /actuator/info.
func WithBuildInfo(b BuildInfo) Option {
	return func(g *Gateway) { g.build = b }
}

// New creates a gateway from a validated configuration. The route table is
// compiled here; any malformed service fails construction.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:  cfg,
		build:   BuildInfo{Version: "dev"},
		metrics: metrics.NewCollector(),
	}
	for _, opt := range opts {
		opt(g)
	}

	table, err := route.Build(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}
	g.table = table
	g.metrics.SetRoutes(table.Len())
	g.metrics.SetBuildInfo(g.build.Version, g.build.Commit)

	if g.decoder == nil {
		d, err := auth.NewDecoder(ctx, cfg.Auth.JWT)
		if err != nil {
			return nil, fmt.Errorf("failed to create token decoder: %w", err)
		}
		g.decoder = d
	}

	if g.tracer == nil {
		t, err := tracing.New(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		g.tracer = t
	}

	g.transport, err = proxy.NewTransport(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream transport: %w", err)
	}
	g.proxy = proxy.New(proxy.Config{
		Transport:      g.transport,
		DefaultTimeout: cfg.Timeout,
		Tracer:         g.tracer,
		Observer:       g.metrics.RecordUpstream,
	})

	g.handler = g.buildHandler()

	logging.Info("Route table built",
		zap.Int("routes", table.Len()),
		zap.Strings("services", table.Names()),
	)
	return g, nil
}

// buildHandler assembles the request chain. The gate runs before dispatch so
// every non-public request is authenticated before any backend is chosen.
func (g *Gateway) buildHandler() http.Handler {
	return middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		UseIf(g.tracer.IsEnabled(), g.tracer.Middleware()).
		Use(middleware.Logging()).
		Use(g.metrics.Middleware()).
		Use(auth.Gate(auth.GateConfig{
			Decoder:   g.decoder,
			OnFailure: g.metrics.RecordAuthFailure,
		})).
		Handler(http.HandlerFunc(g.dispatch))
}

// ServeHTTP implements http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// dispatch serves local actuator endpoints or forwards to the matched route.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	if h := g.actuator(r.URL.Path); h != nil {
		h.ServeHTTP(w, r)
		return
	}

	info := middleware.InfoFromContext(r.Context())

	rt := g.table.Match(r.URL.Path)
	if rt == nil {
		errors.ErrNotFound.WithRequestID(info.RequestID).WriteJSON(w)
		return
	}
	info.Route = rt.Name

	if !g.authorized(r, rt) {
		errors.ErrForbidden.WithRequestID(info.RequestID).WriteJSON(w)
		return
	}

	g.proxy.Forward(w, rt.Apply(r), rt)
}

// authorized checks the route's required authorities against the caller.
// Requests without a principal only pass routes that require nothing.
func (g *Gateway) authorized(r *http.Request, rt *route.Route) bool {
	if len(rt.Authorities) == 0 {
		return true
	}
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		return false
	}
	return claims.HasAnyAuthority(p.Authorities, rt.Authorities)
}

// Table returns the compiled route table.
func (g *Gateway) Table() *route.Table {
	return g.table
}

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

// Close releases background resources: the key set refresher, tracing
// exporter and idle upstream connections.
func (g *Gateway) Close(ctx context.Context) error {
	if c, ok := g.decoder.(interface{ Close() }); ok {
		c.Close()
	}
	if g.transport != nil {
		g.transport.CloseIdleConnections()
	}
	return g.tracer.Close(ctx)
}
