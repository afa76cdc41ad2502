package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// reservedServiceNames cannot be used as service names because the gateway
// serves those path prefixes itself.
var reservedServiceNames = map[string]bool{
	"actuator": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	secrets    *SecretRegistry
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		secrets:    NewSecretRegistry(),
	}
}

// RegisterSecretProvider adds a provider for ${scheme:ref} references.
func (l *Loader) RegisterSecretProvider(p SecretProvider) {
	l.secrets.Register(p)
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables already set in the environment are not overridden.
// A missing file is not an error.
func (l *Loader) LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := resolveSecretRefs(context.Background(), cfg, l.secrets); err != nil {
		return nil, err
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	jwtCfg := cfg.Auth.JWT
	if jwtCfg.JWKSURL == "" && jwtCfg.Secret == "" {
		return fmt.Errorf("auth.jwt: either jwks_url or secret is required")
	}
	if jwtCfg.JWKSURL != "" {
		if err := validateAbsoluteURL(jwtCfg.JWKSURL); err != nil {
			return fmt.Errorf("auth.jwt.jwks_url: %w", err)
		}
	}
	if jwtCfg.JWKSURL == "" {
		switch jwtCfg.Algorithm {
		case "HS256", "HS384", "HS512":
		default:
			return fmt.Errorf("auth.jwt: unsupported algorithm for secret mode: %s", jwtCfg.Algorithm)
		}
	}

	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin: address is required when enabled")
	}

	if cfg.Tracing.Enabled && (cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing: sample_rate must be between 0 and 1")
	}

	if len(cfg.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}
	for _, svc := range cfg.Services {
		if err := validateServiceName(svc.Name); err != nil {
			return err
		}
		if svc.URL == "" {
			return fmt.Errorf("service %s: url is required", svc.Name)
		}
	}

	return nil
}

func validateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if strings.ContainsAny(name, "/:*?#% ") {
		return fmt.Errorf("service %q: name must be a single path segment", name)
	}
	if reservedServiceNames[name] {
		return fmt.Errorf("service %q: name is reserved", name)
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL: %s", raw)
	}
	return nil
}
