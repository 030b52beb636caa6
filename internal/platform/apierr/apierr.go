package apierr

import (
	"fmt"
	"net/http"
)

// Error pairs a failure with the HTTP status and stable code clients branch on.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Public reports whether the underlying message may be shown to callers.
// Upstream generation failures are, other server errors are not.
func (e *Error) Public() bool {
	if e == nil {
		return false
	}
	switch e.Status {
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return e.Status < http.StatusInternalServerError
}

// Message is the caller-facing text.
func (e *Error) Message() string {
	if !e.Public() {
		return http.StatusText(http.StatusInternalServerError)
	}
	return e.Error()
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}
