package route

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const stripPrefixSpec = "StripPrefix="

// Filter transforms an outbound request. Apply never mutates its input; it
// returns a derived request carrying the change.
type Filter interface {
	Apply(r *http.Request) *http.Request
	String() string
}

// ParseFilter compiles one filter spec string. ok is false for spec strings
// that name no known filter; those are skipped by the caller. An error means
// the spec names a known filter with a malformed argument.
func ParseFilter(spec string) (f Filter, ok bool, err error) {
	switch {
	case strings.HasPrefix(spec, stripPrefixSpec):
		arg := strings.TrimPrefix(spec, stripPrefixSpec)
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, true, fmt.Errorf("filter %q: invalid segment count: %w", spec, err)
		}
		if n <= 0 {
			return nil, true, fmt.Errorf("filter %q: segment count must be positive", spec)
		}
		return StripPrefix{Parts: n}, true, nil
	}
	return nil, false, nil
}

// StripPrefix removes the first Parts path segments before forwarding.
type StripPrefix struct {
	Parts int
}

func (s StripPrefix) String() string {
	return stripPrefixSpec + strconv.Itoa(s.Parts)
}

// Apply returns a copy of r with the leading path segments removed.
func (s StripPrefix) Apply(r *http.Request) *http.Request {
	out := shallowCopy(r)
	u := *r.URL
	setEscapedPath(&u, stripSegments(r.URL.EscapedPath(), s.Parts))
	out.URL = &u
	out.RequestURI = ""
	return out
}

// stripSegments drops the first n non-empty segments of an escaped path.
// The result always starts with "/" and keeps a trailing slash when the
// input had one and something remains.
func stripSegments(path string, n int) string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	if n >= len(parts) {
		return "/"
	}

	stripped := "/" + strings.Join(parts[n:], "/")
	if strings.HasSuffix(path, "/") {
		stripped += "/"
	}
	return stripped
}

func setEscapedPath(u *url.URL, escaped string) {
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		u.Path = escaped
		u.RawPath = ""
		return
	}
	u.Path = unescaped
	u.RawPath = ""
	if u.EscapedPath() != escaped {
		u.RawPath = escaped
	}
}

// SetHeader sets a request header to a literal value, replacing any value
// the client sent.
type SetHeader struct {
	Name  string
	Value string
}

func (h SetHeader) String() string {
	return "SetHeader=" + h.Name + "," + h.Value
}

// Apply returns a copy of r with its own header map carrying the header.
func (h SetHeader) Apply(r *http.Request) *http.Request {
	out := shallowCopy(r)
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set(h.Name, h.Value)
	return out
}

func shallowCopy(r *http.Request) *http.Request {
	out := new(http.Request)
	*out = *r
	return out
}
