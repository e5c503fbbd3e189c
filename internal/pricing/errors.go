package pricing

import (
	"errors"
)

// Sentinel errors for the upstream API failure taxonomy. Callers use
// errors.Is to tell retryable conditions (rate limits, timeouts, 5xx) from
// terminal ones (bad credentials, unknown card).
var (
	ErrRateLimited  = errors.New("pricing: rate limited")
	ErrUnauthorized = errors.New("pricing: unauthorized")
	ErrNotFound     = errors.New("pricing: not found")
	ErrNoAPIKey     = errors.New("pricing: no API key configured")
)

// IsTerminal reports whether retrying the same request is pointless.
// Everything else (rate limits, timeouts, 5xx, network errors) is treated as
// transient and safe to retry on a later cycle.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoAPIKey)
}

// IsRetryable is the complement of IsTerminal for readability at call sites.
func IsRetryable(err error) bool {
	return err != nil && !IsTerminal(err)
}
