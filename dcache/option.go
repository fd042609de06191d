package dcache

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultReadWait     = 5 * time.Second
	defaultJitter       = 0.1
)

type config struct {
	clock        clock.Clock
	fetchTimeout time.Duration
	readWait     time.Duration
	jitter       float64
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:        clock.New(),
		fetchTimeout: defaultFetchTimeout,
		readWait:     defaultReadWait,
		jitter:       defaultJitter,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithClock sets the clock used for refresh timers and the read-path bounded
// wait. Tests pass a mock clock to drive the scheduler without real time.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.clock = c
		}
		return nil
	}
}

// WithFetchTimeout bounds the duration of a single fetch. A fetch exceeding
// it is accounted a transient failure and its in-flight slot is freed.
//
// Default is 30 seconds.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("fetch timeout must be positive")
		}
		cfg.fetchTimeout = timeout
		return nil
	}
}

// WithReadWait bounds how long a read blocks for a category that has never
// been fetched. After the wait the read returns a pending result.
//
// Default is 5 seconds.
func WithReadWait(wait time.Duration) Option {
	return func(cfg *config) error {
		if wait <= 0 {
			return fmt.Errorf("read wait must be positive")
		}
		cfg.readWait = wait
		return nil
	}
}

// WithJitter sets the fraction of the refresh interval added as random delay
// after a successful refresh, spreading out fetches across categories that
// share a remote host. Zero disables jitter.
//
// Default is 0.1.
func WithJitter(fraction float64) Option {
	return func(cfg *config) error {
		if fraction < 0 || fraction > 1 {
			return fmt.Errorf("jitter fraction must be in [0, 1]")
		}
		cfg.jitter = fraction
		return nil
	}
}
