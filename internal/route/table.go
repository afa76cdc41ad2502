package route

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/pal/gateway/internal/config"
	"github.com/pal/gateway/internal/logging"
)

// Route binds a service path prefix to a backend and its filter pipeline.
type Route struct {
	Name        string
	Pattern     string // "/<name>/**"
	Target      *url.URL
	Filters     []Filter
	Authorities []string
}

// Apply runs the filter pipeline left to right and returns the derived
// request. The input request is left untouched.
func (rt *Route) Apply(r *http.Request) *http.Request {
	out := r
	for _, f := range rt.Filters {
		out = f.Apply(out)
	}
	return out
}

// TargetURL returns the backend URL for a request that already went through
// the pipeline: target scheme and host, target path joined with the request
// path, request query kept.
func (rt *Route) TargetURL(r *http.Request) *url.URL {
	u := *rt.Target
	u.Path = singleJoiningSlash(rt.Target.Path, r.URL.Path)
	if rt.Target.RawPath != "" || r.URL.RawPath != "" {
		u.RawPath = singleJoiningSlash(rt.Target.EscapedPath(), r.URL.EscapedPath())
	}
	u.RawQuery = r.URL.RawQuery
	u.Fragment = ""
	return &u
}

// Table is the immutable routing table. It is safe for concurrent use.
type Table struct {
	routes []*Route
	tree   *httprouter.Router
}

// matchMethod is the single tree the routes are registered under. Matching
// is by path only, so any request method, including extension methods such
// as PURGE or PROPFIND, resolves against it.
const matchMethod = http.MethodGet

// Build compiles the service table into routes, one per service, in service
// order. Any malformed service aborts the whole build.
func Build(services config.Services) (table *Table, err error) {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false

	// httprouter panics on conflicting registrations
	defer func() {
		if r := recover(); r != nil {
			table = nil
			err = fmt.Errorf("route registration failed: %v", r)
		}
	}()

	t := &Table{tree: tree}
	seen := make(map[string]bool, len(services))
	for _, def := range services {
		if seen[def.Name] {
			return nil, fmt.Errorf("service %s: duplicate name", def.Name)
		}
		seen[def.Name] = true

		rt, err := compile(def)
		if err != nil {
			return nil, err
		}
		t.register(rt)
		t.routes = append(t.routes, rt)
	}
	return t, nil
}

func compile(def config.ServiceDefinition) (*Route, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("service name must not be empty")
	}

	target, err := url.Parse(def.URL)
	if err != nil {
		return nil, fmt.Errorf("service %s: invalid url: %w", def.Name, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("service %s: url must be absolute: %s", def.Name, def.URL)
	}

	rt := &Route{
		Name:        def.Name,
		Pattern:     "/" + def.Name + "/**",
		Target:      target,
		Authorities: def.Authorities,
	}

	for _, spec := range def.Filters {
		f, ok, err := ParseFilter(spec)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", def.Name, err)
		}
		if !ok {
			logging.Warn("Ignoring unrecognized filter",
				zap.String("service", def.Name),
				zap.String("filter", spec),
			)
			continue
		}
		rt.Filters = append(rt.Filters, f)
	}

	names := make([]string, 0, len(def.Headers))
	for name := range def.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rt.Filters = append(rt.Filters, SetHeader{Name: name, Value: def.Headers[name]})
	}

	return rt, nil
}

// register adds the route's base path and catch-all subtree to the tree.
func (t *Table) register(rt *Route) {
	handle := func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if mw, ok := w.(*matchWriter); ok {
			mw.route = rt
		}
	}
	base := "/" + rt.Name
	t.tree.Handle(matchMethod, base, handle)
	t.tree.Handle(matchMethod, base+"/*rest", handle)
}

// Match returns the route for the request path, or nil when no service
// prefix matches or the path is not canonical.
func (t *Table) Match(path string) *Route {
	if !IsCanonical(path) {
		return nil
	}
	handle, params, _ := t.tree.Lookup(matchMethod, path)
	if handle == nil {
		return nil
	}
	mw := &matchWriter{}
	handle(mw, nil, params)
	return mw.route
}

// Routes returns the routes in service order.
func (t *Table) Routes() []*Route {
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Names returns the route names in service order.
func (t *Table) Names() []string {
	names := make([]string, len(t.routes))
	for i, rt := range t.routes {
		names[i] = rt.Name
	}
	return names
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// matchWriter is a no-op ResponseWriter used to read the matched route
// back out of an httprouter handle.
type matchWriter struct {
	route  *Route
	header http.Header
}

func (mw *matchWriter) Header() http.Header {
	if mw.header == nil {
		mw.header = make(http.Header)
	}
	return mw.header
}
func (mw *matchWriter) Write(b []byte) (int, error) { return len(b), nil }
func (mw *matchWriter) WriteHeader(int)             {}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// IsCanonical reports whether p is an absolute path with no dot segments,
// empty segments or duplicate slashes. A single trailing slash is allowed.
func IsCanonical(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	c := path.Clean(p)
	if c != "/" && strings.HasSuffix(p, "/") {
		c += "/"
	}
	return c == p
}
