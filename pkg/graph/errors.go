package graph

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorised = errors.New("graph: unauthorised")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrRateLimited  = errors.New("graph: rate limited")
	ErrBadRequest   = errors.New("graph: bad request")
	ErrServerError  = errors.New("graph: server error")

	// ErrUnexpectedStatus covers non-2xx codes without a dedicated sentinel.
	ErrUnexpectedStatus = errors.New("graph: unexpected status")
)

// WrapError converts an HTTP status code to a sentinel error, or nil for 2xx.
func WrapError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorised
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest:
		return ErrBadRequest
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode >= 500:
		return ErrServerError
	default:
		return ErrUnexpectedStatus
	}
}
