package config

import (
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
)

func redactFixture() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWT.Secret = "jwt-secret"
	cfg.Auth.JWT.Audience = []string{"gateway"}
	cfg.Tracing.Headers = map[string]string{"Authorization": "Bearer otlp-token"}
	cfg.Services = Services{
		{Name: "orders", URL: "http://orders:8080", Headers: map[string]string{"X-Api-Key": "k-123"}},
		{Name: "billing", URL: "http://billing:8080", Filters: []string{"StripPrefix=1"}},
	}
	return cfg
}

func TestRedactConfig(t *testing.T) {
	cfg := redactFixture()
	redacted := RedactConfig(cfg)

	checks := []struct {
		name string
		got  string
	}{
		{"JWT.Secret", redacted.Auth.JWT.Secret},
		{"Tracing.Headers", redacted.Tracing.Headers["Authorization"]},
		{"Service.Headers", redacted.Services[0].Headers["X-Api-Key"]},
	}
	for _, c := range checks {
		if c.got != RedactedValue {
			t.Errorf("%s: got %q, want %q", c.name, c.got, RedactedValue)
		}
	}

	if redacted.Services[0].URL != "http://orders:8080" {
		t.Errorf("non-secret field changed: %q", redacted.Services[0].URL)
	}
	if cfg.Auth.JWT.Secret != "jwt-secret" || cfg.Services[0].Headers["X-Api-Key"] != "k-123" {
		t.Error("original config was mutated")
	}
}

func TestRedactConfig_EmptyStaysEmpty(t *testing.T) {
	cfg := DefaultConfig()
	redacted := RedactConfig(cfg)
	if redacted.Auth.JWT.Secret != "" {
		t.Errorf("empty secret should stay empty, got %q", redacted.Auth.JWT.Secret)
	}
}

func TestRedactedConfigMarshalsInServiceOrder(t *testing.T) {
	out, err := yaml.Marshal(RedactConfig(redactFixture()))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	text := string(out)
	if strings.Contains(text, "k-123") || strings.Contains(text, "jwt-secret") {
		t.Errorf("secret leaked into output:\n%s", text)
	}
	orders, billing := strings.Index(text, "orders:"), strings.Index(text, "billing:")
	if orders < 0 || billing < 0 || orders > billing {
		t.Errorf("expected services in order, got:\n%s", text)
	}
}
