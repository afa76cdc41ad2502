package config

import (
	"maps"
	"reflect"
	"slices"
)

// RedactedValue is the placeholder string used for redacted secrets.
const RedactedValue = "[REDACTED]"

// Clone returns a deep copy of cfg.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Auth.JWT.Audience = slices.Clone(c.Auth.JWT.Audience)
	cp.Transport.Nameservers = slices.Clone(c.Transport.Nameservers)
	cp.Tracing.Headers = maps.Clone(c.Tracing.Headers)
	cp.Services = make(Services, len(c.Services))
	for i, def := range c.Services {
		def.Filters = slices.Clone(def.Filters)
		def.Headers = maps.Clone(def.Headers)
		def.Authorities = slices.Clone(def.Authorities)
		cp.Services[i] = def
	}
	return &cp
}

// RedactConfig returns a deep copy of cfg with every non-empty string tagged
// `redact:"true"` replaced by RedactedValue. For string maps the values are
// replaced and the keys kept. cfg is not mutated.
func RedactConfig(cfg *Config) *Config {
	cp := cfg.Clone()
	walkStrings(reflect.ValueOf(cp).Elem(), "", "", func(_ string, tag reflect.StructTag, _ string) (string, bool) {
		if tag.Get("redact") == "true" {
			return RedactedValue, true
		}
		return "", false
	})
	return cp
}
