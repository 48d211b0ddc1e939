package envelope

import (
	"fmt"
	"net/http"
)

// Error codes exposed to clients.
const (
	CodeValidation         = "validation_error"
	CodeRateLimited        = "rate_limited"
	CodeForbiddenPath      = "forbidden_path"
	CodeNotFound           = "not_found"
	CodeProxyNotConfigured = "proxy_not_configured_arrays"
	CodeBadUpstreamType    = "bad_upstream_type"
	CodeUpstream           = "upstream_error"
	CodeInternal           = "internal_error"
)

// Error is a typed API error carrying the HTTP status and client-visible
// code. The wrapped cause is logged server-side, never serialized.
type Error struct {
	Code    string
	Message string
	Status  int
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400 error for malformed or missing input.
func Validation(message string, details any) *Error {
	return &Error{Code: CodeValidation, Message: message, Status: http.StatusBadRequest, Details: details}
}

// RateLimited returns the 429 rejection for an exhausted token bucket.
func RateLimited() *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limit exceeded", Status: http.StatusTooManyRequests}
}

// ForbiddenPath returns the 403 rejection for a proxy path outside the allowlist.
func ForbiddenPath(path string) *Error {
	return &Error{Code: CodeForbiddenPath, Message: "path not allowed", Status: http.StatusForbidden, Details: path}
}

// NotFound returns a 404 error.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// ProxyNotConfigured returns the 503 rejection when no allowlist is configured.
func ProxyNotConfigured() *Error {
	return &Error{Code: CodeProxyNotConfigured, Message: "proxy path policy not configured", Status: http.StatusServiceUnavailable}
}

// BadUpstreamType returns the 502 rejection for a non-JSON upstream response.
func BadUpstreamType(contentType string) *Error {
	return &Error{Code: CodeBadUpstreamType, Message: "upstream returned unexpected content type", Status: http.StatusBadGateway, Details: contentType}
}

// Upstream returns a 502 error for an unreachable or misbehaving upstream.
func Upstream(message string, err error) *Error {
	return &Error{Code: CodeUpstream, Message: message, Status: http.StatusBadGateway, Err: err}
}

// Internal returns a 500 error. The cause is retained for logs only.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}
