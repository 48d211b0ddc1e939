// Package envelope shapes all HTTP responses into a uniform
// success/error JSON envelope.
package envelope

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Response is the uniform wire shape for every API outcome.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Timestamp int64      `json:"timestamp"` // epoch ms
}

// ErrorBody is the client-visible error payload. Never carries stack traces.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// WriteSuccess writes a success envelope with the given HTTP status.
func WriteSuccess(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// WriteError renders err through the envelope. Typed *Error values keep
// their status and code; anything else becomes a 500 internal_error with
// a generic message.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal(err)
	}
	write(w, apiErr.Status, Response{
		Success: false,
		Error: &ErrorBody{
			Message: apiErr.Message,
			Code:    apiErr.Code,
			Details: apiErr.Details,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding a Response cannot fail for the payloads we produce; a broken
	// connection here is not recoverable anyway.
	_ = json.NewEncoder(w).Encode(resp)
}
