package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	final := NewChain(RequestIDWithConfig(RequestIDConfig{
		Generator: func() string { return "req-1" },
	}), RecoveryWithConfig(RecoveryConfig{})).Then(handler)

	rr := httptest.NewRecorder()
	final.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rr.Code)
	}

	var body struct {
		Code      int    `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.RequestID != "req-1" {
		t.Errorf("Expected request_id req-1, got %q", body.RequestID)
	}
}

func TestRecoveryWithConfig(t *testing.T) {
	var loggedErr interface{}
	var loggedStack []byte

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("custom panic")
	})

	cfg := RecoveryConfig{
		PrintStack: true,
		LogFunc: func(err interface{}, stack []byte) {
			loggedErr = err
			loggedStack = stack
		},
	}

	RecoveryWithConfig(cfg)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	if loggedErr != "custom panic" {
		t.Errorf("Expected 'custom panic', got %v", loggedErr)
	}
	if len(loggedStack) == 0 {
		t.Error("Expected stack trace to be captured")
	}
}

func TestRecoveryNoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	rr := httptest.NewRecorder()
	Recovery()(handler).ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "success" {
		t.Errorf("Expected body success, got %q", rr.Body.String())
	}
}

func TestRecoveryRepanicsAbortHandler(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	Recovery()(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
}
