package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")
)

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got %d: %s", e.Code, e.Message)
}

// newStatusError unquotes the JSON string bodies the daemon answers errors
// with.
func newStatusError(code int, body string) *StatusError {
	msg := body
	var s string
	if err := json.Unmarshal([]byte(body), &s); err == nil {
		msg = s
	}
	return &StatusError{Code: code, Message: msg}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
