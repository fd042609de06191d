package source

import (
	"context"
)

// Fetcher is the capability a data source supplies for one display category.
// It returns a serialized payload on success or fails with one of the typed
// errors in this package. The context carries the caller's timeout and
// cancellation; implementations should stop work when it is done.
type Fetcher func(ctx context.Context) ([]byte, error)

// ConfigErrorFetcher returns a Fetcher that always fails with a ConfigError
// describing the missing or invalid configuration. It is used for categories
// whose configuration was found incomplete at startup, so that the first
// fetch attempt disables the category deterministically.
func ConfigErrorFetcher(reason string) Fetcher {
	err := &ConfigError{Reason: reason}
	return func(ctx context.Context) ([]byte, error) {
		return nil, err
	}
}
