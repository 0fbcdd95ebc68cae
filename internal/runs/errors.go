package runs

import (
	"errors"
	"net/http"
)

// Domain errors for run operations.
var (
	ErrNotFound         = errors.New("run not found")
	ErrDuplicate        = errors.New("run already exists")
	ErrInvalidInput     = errors.New("invalid run request")
	ErrInputNotFound    = errors.New("input file not found")
	ErrManifestTooLarge = errors.New("manifest exceeds maximum size")
	ErrQueueFull        = errors.New("run queue is full")
	ErrNotCancellable   = errors.New("run cannot be cancelled")
	ErrNotClaimable     = errors.New("run is not pending")
	ErrNoFailureFile    = errors.New("run has no failure file")
)

// MapHTTPStatus maps run domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoFailureFile):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInputNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrManifestTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
