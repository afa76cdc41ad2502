package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON_Base(t *testing.T) {
	rr := httptest.NewRecorder()
	ErrNotFound.WriteJSON(rr)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body GatewayError
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "Not Found" || body.Details != "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestWriteJSON_WithDetailsAndRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	ErrBadGateway.WithDetails("dial tcp: refused").WithRequestID("req-1").WriteJSON(rr)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}

	var body GatewayError
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Details != "dial tcp: refused" {
		t.Errorf("Details = %q", body.Details)
	}
	if body.RequestID != "req-1" {
		t.Errorf("RequestID = %q", body.RequestID)
	}
}

func TestWithDetailsDoesNotMutateBase(t *testing.T) {
	_ = ErrForbidden.WithDetails("nope")
	if ErrForbidden.Details != "" {
		t.Error("WithDetails must return a copy")
	}
}

func TestWithRequestIDEmpty(t *testing.T) {
	if got := ErrGatewayTimeout.WithRequestID(""); got != ErrGatewayTimeout {
		t.Error("empty request id should return the receiver")
	}
}
