package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type infoResponse struct {
	Build   BuildInfo `json:"build"`
	Routes  []string  `json:"routes"`
	Started string    `json:"started"`
	Uptime  string    `json:"uptime"`
	Auth    string    `json:"auth"`
	Tracing bool      `json:"tracing"`
}

var startTime = time.Now()

// actuator returns the local handler for path, or nil when the path belongs
// to the route table.
func (g *Gateway) actuator(path string) http.Handler {
	switch path {
	case "/actuator/health", "/actuator/health/liveness", "/actuator/health/readiness":
		return http.HandlerFunc(g.handleHealth)
	case "/actuator/info":
		return http.HandlerFunc(g.handleInfo)
	}
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "UP"})
}

func (g *Gateway) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}

	mode := "hmac"
	if g.config.Auth.JWT.JWKSURL != "" {
		mode = "jwks"
	}

	writeJSON(w, http.StatusOK, infoResponse{
		Build:   g.build,
		Routes:  g.table.Names(),
		Started: startTime.UTC().Format(time.RFC3339),
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Auth:    mode,
		Tracing: g.tracer.IsEnabled(),
	})
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
