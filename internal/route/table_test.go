package route

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pal/gateway/internal/config"
)

func services(defs ...config.ServiceDefinition) config.Services {
	return config.Services(defs)
}

func TestBuild_RoundTrip(t *testing.T) {
	table, err := Build(services(config.ServiceDefinition{
		Name:    "svc",
		URL:     "http://backend:8080",
		Filters: []string{"StripPrefix=1"},
		Headers: map[string]string{"X-Tag": "v1"},
	}))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	rt := table.Match("/svc/orders/42")
	require.NotNil(t, rt)
	assert.Equal(t, "svc", rt.Name)
	assert.Equal(t, "/svc/**", rt.Pattern)

	req := httptest.NewRequest("GET", "/svc/orders/42", nil)
	out := rt.Apply(req)

	assert.Equal(t, "http://backend:8080/orders/42", rt.TargetURL(out).String())
	assert.Equal(t, "v1", out.Header.Get("X-Tag"))
	assert.Empty(t, req.Header.Get("X-Tag"))
}

func TestBuild_FilterOrder(t *testing.T) {
	table, err := Build(services(config.ServiceDefinition{
		Name:    "svc",
		URL:     "http://backend",
		Filters: []string{"StripPrefix=1", "Frobnicate=3", "StripPrefix=1"},
		Headers: map[string]string{"X-B": "2", "X-A": "1"},
	}))
	require.NoError(t, err)

	rt := table.Routes()[0]
	require.Len(t, rt.Filters, 4)
	assert.Equal(t, StripPrefix{Parts: 1}, rt.Filters[0])
	assert.Equal(t, StripPrefix{Parts: 1}, rt.Filters[1])
	assert.IsType(t, SetHeader{}, rt.Filters[2])
	assert.IsType(t, SetHeader{}, rt.Filters[3])

	out := rt.Apply(httptest.NewRequest("GET", "/svc/a/b/c", nil))
	assert.Equal(t, "/b/c", out.URL.Path)
	assert.Equal(t, "1", out.Header.Get("X-A"))
	assert.Equal(t, "2", out.Header.Get("X-B"))
}

func TestBuild_UnrecognizedFilterIgnored(t *testing.T) {
	table, err := Build(services(config.ServiceDefinition{
		Name:    "svc",
		URL:     "http://backend:8080",
		Filters: []string{"Frobnicate=3"},
	}))
	require.NoError(t, err)

	rt := table.Match("/svc/keep/me")
	require.NotNil(t, rt)
	assert.Empty(t, rt.Filters)

	req := httptest.NewRequest("GET", "/svc/keep/me", nil)
	out := rt.Apply(req)
	assert.Same(t, req, out)
	assert.Equal(t, "http://backend:8080/svc/keep/me", rt.TargetURL(out).String())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs config.Services
	}{
		{"non-numeric strip", services(config.ServiceDefinition{Name: "a", URL: "http://a", Filters: []string{"StripPrefix=x"}})},
		{"zero strip", services(config.ServiceDefinition{Name: "a", URL: "http://a", Filters: []string{"StripPrefix=0"}})},
		{"relative url", services(config.ServiceDefinition{Name: "a", URL: "/just/a/path"})},
		{"bad url", services(config.ServiceDefinition{Name: "a", URL: "http://[::1"})},
		{"duplicate", services(
			config.ServiceDefinition{Name: "a", URL: "http://a"},
			config.ServiceDefinition{Name: "a", URL: "http://b"},
		)},
		{"empty name", services(config.ServiceDefinition{URL: "http://a"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Build(tt.defs)
			assert.Error(t, err)
			assert.Nil(t, table)
		})
	}
}

func TestBuild_MalformedRouteAbortsWholeTable(t *testing.T) {
	table, err := Build(services(
		config.ServiceDefinition{Name: "good", URL: "http://good"},
		config.ServiceDefinition{Name: "bad", URL: "http://bad", Filters: []string{"StripPrefix=two"}},
	))
	assert.Error(t, err)
	assert.Nil(t, table)
}

func TestTable_Match(t *testing.T) {
	table, err := Build(services(
		config.ServiceDefinition{Name: "orders", URL: "http://orders"},
		config.ServiceDefinition{Name: "orders-v2", URL: "http://orders-v2"},
		config.ServiceDefinition{Name: "users", URL: "http://users"},
	))
	require.NoError(t, err)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/orders/1", "orders"},
		{"POST", "/orders/1/items", "orders"},
		{"DELETE", "/orders", "orders"},
		{"GET", "/orders/", "orders"},
		{"PATCH", "/orders-v2/1", "orders-v2"},
		{"OPTIONS", "/users/me", "users"},
		{"GET", "/ordersx/1", ""},
		{"GET", "/", ""},
		{"GET", "/unknown/path", ""},
		{"GET", "/api/orders/1", ""},
		{"PURGE", "/orders/1", "orders"},
		{"PROPFIND", "/users/me/files", "users"},
		{"GET", "/users/../orders/1", ""},
		{"GET", "/orders/./1", ""},
		{"GET", "/orders//1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rt := table.Match(tt.path)
			if tt.want == "" {
				assert.Nil(t, rt)
				return
			}
			require.NotNil(t, rt)
			assert.Equal(t, tt.want, rt.Name)
		})
	}
}

func TestIsCanonical(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/orders", true},
		{"/orders/", true},
		{"/orders/1/items", true},
		{"", false},
		{"orders", false},
		{"/orders/..", false},
		{"/api/public/../admin/users", false},
		{"/api/public/./x", false},
		{"/api//public", false},
		{"/orders//", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCanonical(tt.path))
		})
	}
}

func TestTable_PreservesServiceOrder(t *testing.T) {
	table, err := Build(services(
		config.ServiceDefinition{Name: "zeta", URL: "http://z"},
		config.ServiceDefinition{Name: "alpha", URL: "http://a"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, table.Names())
}

func TestRoute_TargetURL(t *testing.T) {
	table, err := Build(services(config.ServiceDefinition{
		Name:    "svc",
		URL:     "https://backend.internal:8443/base/",
		Filters: []string{"StripPrefix=1"},
	}))
	require.NoError(t, err)
	rt := table.Routes()[0]

	tests := []struct {
		in   string
		want string
	}{
		{"/svc/orders/42?x=1", "https://backend.internal:8443/base/orders/42?x=1"},
		{"/svc", "https://backend.internal:8443/base/"},
		{"/svc/a/b/c/d", "https://backend.internal:8443/base/a/b/c/d"},
	}
	for _, tt := range tests {
		out := rt.Apply(httptest.NewRequest("GET", tt.in, nil))
		assert.Equal(t, tt.want, rt.TargetURL(out).String(), tt.in)
	}
}
