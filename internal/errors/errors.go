package errors

import (
	"encoding/json"
	"net/http"
)

// GatewayError represents an error that can be returned to clients
type GatewayError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// WriteJSON writes the error as JSON to the response.
// Base errors (no details/requestID) use pre-serialized JSON.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrNotFound = &GatewayError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrForbidden = &GatewayError{
		Code:    http.StatusForbidden,
		Message: "Forbidden",
	}

	ErrBadGateway = &GatewayError{
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrGatewayTimeout = &GatewayError{
		Code:    http.StatusGatewayTimeout,
		Message: "Gateway Timeout",
	}

	ErrInternalServer = &GatewayError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*GatewayError][]byte

func init() {
	bases := []*GatewayError{
		ErrNotFound, ErrForbidden, ErrBadGateway,
		ErrGatewayTimeout, ErrInternalServer,
	}
	preSerialized = make(map[*GatewayError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// WithDetails adds details to the error
func (e *GatewayError) WithDetails(details string) *GatewayError {
	return &GatewayError{
		Code:      e.Code,
		Message:   e.Message,
		Details:   details,
		RequestID: e.RequestID,
	}
}

// WithRequestID adds a request ID to the error
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	if requestID == "" {
		return e
	}
	return &GatewayError{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
	}
}
