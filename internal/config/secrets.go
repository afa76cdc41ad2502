package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
)

// SecretProvider resolves secret references for a given scheme.
type SecretProvider interface {
	Scheme() string
	Resolve(ctx context.Context, reference string) (string, error)
}

// SecretRegistry manages named SecretProviders.
type SecretRegistry struct {
	providers map[string]SecretProvider
}

// NewSecretRegistry creates a registry with the env and file providers.
func NewSecretRegistry() *SecretRegistry {
	r := &SecretRegistry{providers: make(map[string]SecretProvider)}
	r.Register(&EnvProvider{})
	r.Register(&FileProvider{})
	return r
}

// Register adds a provider, replacing any provider for the same scheme.
func (r *SecretRegistry) Register(p SecretProvider) {
	r.providers[p.Scheme()] = p
}

// Resolve looks up the provider for scheme and delegates resolution.
func (r *SecretRegistry) Resolve(ctx context.Context, scheme, reference string) (string, error) {
	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("unknown secret provider scheme %q", scheme)
	}
	return p.Resolve(ctx, reference)
}

// EnvProvider resolves ${env:NAME} from the process environment.
type EnvProvider struct{}

func (p *EnvProvider) Scheme() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	val, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", ref)
	}
	return val, nil
}

// FileProvider resolves ${file:/path} by reading the file, as mounted
// container secrets are. Trailing whitespace is trimmed.
type FileProvider struct {
	// AllowedPrefixes restricts readable paths. Empty allows all paths.
	AllowedPrefixes []string
}

func (p *FileProvider) Scheme() string { return "file" }

func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if len(p.AllowedPrefixes) > 0 {
		allowed := false
		for _, prefix := range p.AllowedPrefixes {
			if strings.HasPrefix(ref, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("file path %q not under any allowed prefix", ref)
		}
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("reading secret file %q: %w", ref, err)
	}
	return strings.TrimRight(string(data), " \t\r\n"), nil
}

// secretRefPattern matches a whole-value reference: ${scheme:reference}.
var secretRefPattern = regexp.MustCompile(`^\$\{([a-z][a-z0-9]*):(.+)\}$`)

// resolveSecretRefs replaces every ${scheme:ref} string in cfg, including
// string map values such as service headers.
func resolveSecretRefs(ctx context.Context, cfg *Config, registry *SecretRegistry) error {
	var resolveErr error
	walkStrings(reflect.ValueOf(cfg).Elem(), "", "", func(path string, _ reflect.StructTag, val string) (string, bool) {
		if resolveErr != nil {
			return "", false
		}
		m := secretRefPattern.FindStringSubmatch(val)
		if m == nil {
			return "", false
		}
		resolved, err := registry.Resolve(ctx, m[1], m[2])
		if err != nil {
			resolveErr = fmt.Errorf("secret resolution failed for %s: %w", path, err)
			return "", false
		}
		return resolved, true
	})
	return resolveErr
}

// walkStrings visits every string reachable from v through structs, slices
// and maps. fn returns the replacement and whether to store it. Map values
// inherit the tag of the map field.
func walkStrings(v reflect.Value, path string, tag reflect.StructTag, fn func(path string, tag reflect.StructTag, val string) (string, bool)) {
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() {
			walkStrings(v.Elem(), path, tag, fn)
		}
	case reflect.String:
		if v.CanSet() && v.Len() > 0 {
			if out, ok := fn(path, tag, v.String()); ok {
				v.SetString(out)
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			walkStrings(v.Field(i), joinPath(path, sf.Name), sf.Tag, fn)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			walkStrings(v.Index(i), fmt.Sprintf("%s[%d]", path, i), tag, fn)
		}
	case reflect.Map:
		if v.IsNil() || v.Type().Elem().Kind() != reflect.String {
			return
		}
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key).String()
			if elem == "" {
				continue
			}
			if out, ok := fn(fmt.Sprintf("%s[%s]", path, key), tag, elem); ok {
				v.SetMapIndex(key, reflect.ValueOf(out).Convert(v.Type().Elem()))
			}
		}
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
