package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNetwork          = errors.New("network error")
	ErrAuthentication   = errors.New("authentication failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrServer           = errors.New("exchange server error")
	ErrExchange         = errors.New("exchange error")
	ErrValidation       = errors.New("validation failed")
	ErrPersistence      = errors.New("persistence failure")
	ErrLockHeld         = errors.New("lock already held")

	ErrPositionOpen = fmt.Errorf("%w: position already open", ErrValidation)
	ErrNoPosition   = fmt.Errorf("%w: no open position", ErrValidation)
	ErrSpotShort    = fmt.Errorf("%w: short not supported on spot symbol", ErrValidation)
	ErrNoPrice      = errors.New("no price available")
)

// ErrorKind classifies an exchange fault.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindAuthentication   ErrorKind = "authentication"
	KindRateLimit        ErrorKind = "rate_limit"
	KindInvalidParameter ErrorKind = "invalid_parameter"
	KindNotFound         ErrorKind = "not_found"
	KindServer           ErrorKind = "server"
	KindExchange         ErrorKind = "exchange"
)

var kindSentinels = map[ErrorKind]error{
	KindNetwork:          ErrNetwork,
	KindAuthentication:   ErrAuthentication,
	KindRateLimit:        ErrRateLimited,
	KindInvalidParameter: ErrInvalidParameter,
	KindNotFound:         ErrNotFound,
	KindServer:           ErrServer,
	KindExchange:         ErrExchange,
}

// ExchangeError is a classified exchange fault. It carries the original
// exchange code, whether a retry may help, and the suggested delay before the
// next attempt. errors.Is matches it against the sentinel of its kind.
type ExchangeError struct {
	Kind       ErrorKind
	Code       int
	HTTPStatus int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("woox %s error %d: %s", e.Kind, e.Code, e.Message)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("woox %s error (http %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("woox %s error: %s", e.Kind, e.Message)
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ExchangeError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a classified fault marked retryable.
func IsRetryable(err error) bool {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Retryable
	}
	return false
}
