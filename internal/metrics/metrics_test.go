package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pal/gateway/internal/middleware"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestCollectorRecordRequest(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("orders", "GET", 200, 100*time.Millisecond)
	c.RecordRequest("orders", "GET", 200, 200*time.Millisecond)
	c.RecordRequest("orders", "POST", 500, 50*time.Millisecond)
	c.RecordRequest("", "GET", 404, time.Millisecond)

	body := scrape(t, c)

	for _, want := range []string{
		`gateway_requests_total{code="200",method="GET",route="orders"} 2`,
		`gateway_requests_total{code="500",method="POST",route="orders"} 1`,
		`gateway_requests_total{code="404",method="GET",route="unmatched"} 1`,
		`gateway_request_duration_seconds_count{method="GET",route="orders"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestCollectorUpstreamAndAuth(t *testing.T) {
	c := NewCollector()

	c.RecordUpstream("orders", 10*time.Millisecond, "")
	c.RecordUpstream("orders", 30*time.Second, "timeout")
	c.RecordAuthFailure("missing_token")
	c.RecordAuthFailure("missing_token")
	c.SetRoutes(3)
	c.SetBuildInfo("1.2.3", "abc123")

	body := scrape(t, c)

	for _, want := range []string{
		`gateway_upstream_duration_seconds_count{route="orders"} 2`,
		`gateway_upstream_errors_total{kind="timeout",route="orders"} 1`,
		`gateway_auth_failures_total{reason="missing_token"} 2`,
		`gateway_routes 3`,
		`gateway_build_info{commit="abc123",version="1.2.3"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestCollectorMiddleware(t *testing.T) {
	c := NewCollector()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.InfoFromContext(r.Context()).Route = "users"
		w.WriteHeader(http.StatusTeapot)
	})

	final := middleware.NewChain(middleware.RequestID(), c.Middleware()).Then(handler)
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/users/1", nil))

	body := scrape(t, c)
	want := `gateway_requests_total{code="418",method="DELETE",route="users"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in output:\n%s", want, body)
	}
	if !strings.Contains(body, "gateway_requests_in_flight 0") {
		t.Error("in-flight gauge should return to zero")
	}
}

func TestCollectorsAreIsolated(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.RecordAuthFailure("invalid_token")

	if strings.Contains(scrape(t, b), `gateway_auth_failures_total{reason="invalid_token"}`) {
		t.Error("collectors must not share a registry")
	}
}
