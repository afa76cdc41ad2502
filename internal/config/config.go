package config

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
)

// Config represents the complete gateway configuration
type Config struct {
	Listen    string          `yaml:"listen"`  // e.g., ":8080"
	HTTP      HTTPConfig      `yaml:"http"`
	Timeout   time.Duration   `yaml:"timeout"` // default upstream request timeout
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Transport TransportConfig `yaml:"transport"`
	Admin     AdminConfig     `yaml:"admin"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Services  Services        `yaml:"services"`
}

// HTTPConfig defines HTTP server settings for the main listener
type HTTPConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

// ShutdownConfig defines graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"` // total shutdown timeout (default 15s)
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Format   string            `yaml:"format"` // json or console
	Output   string            `yaml:"output"` // stdout, stderr or a file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`
}

// AuthConfig defines bearer token validation settings
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig defines how bearer tokens are verified. Either JWKSURL or Secret
// must be set; JWKSURL wins when both are present.
type JWTConfig struct {
	JWKSURL             string        `yaml:"jwks_url"`
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval"` // default 1h
	Secret              string        `yaml:"secret" redact:"true"`
	Algorithm           string        `yaml:"algorithm"` // HS256, HS384, HS512 (secret mode)
	Issuer              string        `yaml:"issuer"`
	Audience            []string      `yaml:"audience"`
	Leeway              time.Duration `yaml:"leeway"`
}

// TransportConfig defines upstream HTTP transport settings
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
	Nameservers           []string      `yaml:"nameservers"` // host:port; empty uses the OS resolver
}

// AdminConfig defines the admin listener (metrics, pprof)
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Pprof   bool   `yaml:"pprof"`
}

// TracingConfig defines distributed tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers" redact:"true"`
}

// ServiceDefinition describes one backend service. The service name is the
// map key in YAML and doubles as the first path segment of its route.
type ServiceDefinition struct {
	Name        string            `yaml:"-"`
	URL         string            `yaml:"url"`
	Filters     []string          `yaml:"filters"`
	Headers     map[string]string `yaml:"headers" redact:"true"`
	Authorities []string          `yaml:"authorities"` // any-of, e.g. ROLE_ADMIN
}

// Services is the service table in document order.
type Services []ServiceDefinition

// UnmarshalYAML decodes a name -> definition mapping while keeping the order
// in which the services appear in the file.
func (s *Services) UnmarshalYAML(data []byte) error {
	var ordered yaml.MapSlice
	if err := yaml.Unmarshal(data, &ordered); err != nil {
		return err
	}
	var defs map[string]ServiceDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return err
	}

	out := make(Services, 0, len(ordered))
	for _, item := range ordered {
		name := fmt.Sprint(item.Key)
		def := defs[name]
		def.Name = name
		out = append(out, def)
	}
	*s = out
	return nil
}

// MarshalYAML writes the services back as an ordered name -> definition
// mapping.
func (s Services) MarshalYAML() (interface{}, error) {
	out := make(yaml.MapSlice, 0, len(s))
	for _, def := range s {
		out = append(out, yaml.MapItem{Key: def.Name, Value: def})
	}
	return out, nil
}

// Names returns the service names in order.
func (s Services) Names() []string {
	names := make([]string, len(s))
	for i, def := range s {
		names[i] = def.Name
	}
	return names
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Timeout: 30 * time.Second,
		Shutdown: ShutdownConfig{
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				JWKSRefreshInterval: time.Hour,
				Algorithm:           "HS256",
			},
		},
		Transport: TransportConfig{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialTimeout:         30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Admin: AdminConfig{
			Address: ":9090",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "gateway",
			SampleRate:  1.0,
		},
	}
}
