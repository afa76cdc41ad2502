package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pal/gateway/internal/config"
	"github.com/pal/gateway/internal/logging"
	"github.com/pal/gateway/internal/route"
)

// Server wraps the gateway with HTTP server functionality
type Server struct {
	gateway     *Gateway
	httpServer  *http.Server
	adminServer *http.Server
	config      *config.Config
}

// NewServer creates a new gateway server.
func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	gw, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway: gw,
		config:  cfg,
		httpServer: &http.Server{
			Addr:              cfg.Listen,
			Handler:           gw,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
			ErrorLog:          zap.NewStdLog(logging.Global()),
		},
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		}
	}

	return s, nil
}

// Gateway returns the underlying gateway handler.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Run starts the listeners and blocks until ctx is done, SIGINT/SIGTERM is
// received or a listener fails. It then shuts everything down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	var adminLn net.Listener
	if s.adminServer != nil {
		adminLn, err = net.Listen("tcp", s.adminServer.Addr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.adminServer.Addr, err)
		}
	}

	return s.Serve(ctx, ln, adminLn)
}

// Serve runs the servers on already-bound listeners. adminLn may be nil.
func (s *Server) Serve(ctx context.Context, ln, adminLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Gateway listening", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server error: %w", err)
		}
		return nil
	})

	if s.adminServer != nil && adminLn != nil {
		g.Go(func() error {
			logging.Info("Admin listening", zap.String("address", adminLn.Addr().String()))
			if err := s.adminServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down gracefully...")
		return s.Shutdown(s.config.Shutdown.Timeout)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the servers
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway server shutdown: %w", err))
	}
	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}
	if err := s.gateway.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway close: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		logging.Error("Shutdown completed with errors", zap.Error(err))
		return err
	}
	logging.Info("Server shutdown complete")
	return nil
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", s.gateway.Metrics().Handler())
	mux.HandleFunc("/routes", s.handleRoutes)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "UP"})
	})

	if s.config.Admin.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

// handleConfig dumps the effective configuration with secrets redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	out, err := yaml.Marshal(config.RedactConfig(s.config))
	if err != nil {
		logging.Error("Failed to render configuration", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

type routeView struct {
	Name        string   `json:"name"`
	Pattern     string   `json:"pattern"`
	Target      string   `json:"target"`
	Filters     []string `json:"filters"`
	Authorities []string `json:"authorities,omitempty"`
}

// handleRoutes lists the compiled routes. Header values are not shown.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.gateway.Table().Routes()
	out := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		v := routeView{
			Name:        rt.Name,
			Pattern:     rt.Pattern,
			Target:      rt.Target.String(),
			Filters:     make([]string, 0, len(rt.Filters)),
			Authorities: rt.Authorities,
		}
		for _, f := range rt.Filters {
			v.Filters = append(v.Filters, filterName(f))
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// filterName hides SetHeader values, which may carry credentials.
func filterName(f route.Filter) string {
	if h, ok := f.(route.SetHeader); ok {
		return "SetHeader=" + h.Name
	}
	return f.String()
}
