package resilience

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError attaches an HTTP-style status code to a provider error.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider returned status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// WithStatus annotates err with code. A nil err stays nil.
func WithStatus(err error, code int) error {
	if err == nil {
		return nil
	}
	return &StatusError{Code: code, Err: err}
}

// StatusCode returns the outermost status code carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsRateLimited reports whether err carries a 429 status.
func IsRateLimited(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusTooManyRequests
}

// TerminalError is returned once the retry budget is spent. It wraps the last
// error seen so callers can still inspect its status.
type TerminalError struct {
	Err      error
	Attempts int
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is an exhausted-retry failure.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
