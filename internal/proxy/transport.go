package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/pal/gateway/internal/config"
)

// DefaultTransportConfig provides default transport settings
var DefaultTransportConfig = config.TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	MaxConnsPerHost:       0, // unlimited
	IdleConnTimeout:       90 * time.Second,
	DialTimeout:           30 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 0, // bounded by the request timeout instead
}

// NewTransport creates the upstream HTTP transport. Zero fields fall back to
// DefaultTransportConfig.
func NewTransport(cfg config.TransportConfig) (*http.Transport, error) {
	cfg = withDefaults(cfg)

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
		Resolver:  newResolver(cfg.Nameservers, cfg.DialTimeout),
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
	}, nil
}

// DefaultTransport creates a transport with default settings
func DefaultTransport() *http.Transport {
	t, _ := NewTransport(DefaultTransportConfig)
	return t
}

func withDefaults(cfg config.TransportConfig) config.TransportConfig {
	return config.WithDefaults(DefaultTransportConfig, cfg)
}

// newResolver builds a resolver that round-robins across nameservers. It
// returns nil, meaning the OS default, when nameservers is empty.
func newResolver(nameservers []string, timeout time.Duration) *net.Resolver {
	if len(nameservers) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var counter atomic.Uint64
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			ns := nameservers[(counter.Add(1)-1)%uint64(len(nameservers))]
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, network, ns)
		},
	}
}
