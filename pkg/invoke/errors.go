package invoke

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient marks failures worth retrying: network faults, timeouts,
	// throttling and server errors.
	ErrTransient = errors.New("transient remote failure")
	// ErrPermanent marks failures a retry cannot fix: client errors and
	// undecodable responses.
	ErrPermanent = errors.New("permanent remote failure")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Unwrap classifies the status as transient or permanent.
func (e *StatusError) Unwrap() error {
	if Retryable(e.Code) {
		return ErrTransient
	}
	return ErrPermanent
}

// Retryable reports whether an HTTP status code indicates a transient failure.
func Retryable(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
