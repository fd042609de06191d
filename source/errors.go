package source

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a class of fetch failure. Kinds are stable strings so that
// the last failure of a category can be persisted with its cache entry and
// reconstructed after a restart.
type Kind string

const (
	KindTransient Kind = "transient"
	KindRateLimit Kind = "rate-limit"
	KindConfig    Kind = "config"
)

// TransientError is a failure that is expected to go away on its own, such as
// a network timeout, a 5xx response, or an unparsable response body. It is
// retried with backoff and never surfaced to readers.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error: %s", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimitError indicates the source refused the request due to quota.
// RetryAfter is the source-provided wait hint, or zero if none was given.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != 0 {
		return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %s", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// ConfigError is a failure that automatic retries cannot fix, such as missing
// or rejected credentials. A category whose fetch fails with ConfigError is
// disabled until its configuration is corrected and it is re-enabled.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ErrKind classifies err into one of the error kinds. Unrecognized errors are
// treated as transient, since that is the only kind safe to retry.
func ErrKind(err error) Kind {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return KindConfig
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindRateLimit
	}
	return KindTransient
}

// IsConfig reports whether err is, or wraps, a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// AsRateLimit extracts a RateLimitError from err, if present.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
