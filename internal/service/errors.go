package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/juanvelozo/gaston-server/pkg/tokens"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = tokens.ErrTokenInvalid
	ErrTokenExpired       = tokens.ErrTokenExpired
	ErrRefreshInvalid     = errors.New("refresh token invalid")
	ErrAccessDenied       = errors.New("access denied")
	ErrNotFound           = errors.New("user not found")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("too many attempts")
)

// RateLimitError carries the cooldown left before signin is accepted again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// resultLabel names the outcome of an operation for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrEmailTaken):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
