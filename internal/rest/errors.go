// ABOUTME: Typed REST errors mapped from HTTP statuses and response bodies
// ABOUTME: Distinguishes API rejections from transport-level connection failures

package rest

import (
	"encoding/json"
	"fmt"
)

// HTTPError is the base error for non-2xx API responses. The code and
// message are extracted from the JSON error body when present.
type HTTPError struct {
	Status  int
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rest: status %d (code %d): %s", e.Status, e.Code, e.Message)
}

// BadRequestError is returned for 400 responses.
type BadRequestError struct{ HTTPError }

// UnauthorizedError is returned for 401 responses.
type UnauthorizedError struct{ HTTPError }

// ForbiddenError is returned for 403 responses.
type ForbiddenError struct{ HTTPError }

// NotFoundError is returned for 404 responses.
type NotFoundError struct{ HTTPError }

// ConnectionError wraps a transport-level failure (dial error, reset,
// refused connection). The session layers treat these as "connection
// ended" rather than as API rejections.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rest: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// apiErrorBody is the JSON error shape returned by the API.
type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// newHTTPError maps a status and raw body to the matching typed error.
func newHTTPError(status int, body []byte) error {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = apiErrorBody{Message: string(body)}
	}

	base := HTTPError{Status: status, Code: parsed.Code, Message: parsed.Message}
	switch status {
	case 400:
		return &BadRequestError{base}
	case 401:
		return &UnauthorizedError{base}
	case 403:
		return &ForbiddenError{base}
	case 404:
		return &NotFoundError{base}
	default:
		return &base
	}
}
