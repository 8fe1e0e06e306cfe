package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure kinds the remote collaborators produce. Callers branch on these
// with errors.Is; everything else is a plain wrapped error.
var (
	ErrNotFound     = errors.New("gateway: not found")
	ErrUnauthorized = errors.New("gateway: unauthorized")
	ErrForbidden    = errors.New("gateway: forbidden")
	ErrRateLimited  = errors.New("gateway: rate limited")
	ErrServer       = errors.New("gateway: server error")
)

// statusError maps an HTTP status to a failure kind, nil for 2xx.
func statusError(code int, body string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, body)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, body)
	case code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServer, code, body)
	default:
		return fmt.Errorf("gateway: unexpected status %d: %s", code, body)
	}
}

// isAuthError reports whether err calls for a credential refresh.
func isAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// isRetryable reports whether a retry could plausibly succeed.
func isRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer) || isAuthError(err)
}
