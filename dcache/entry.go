package dcache

import (
	"encoding/json"
	"time"

	"github.com/pidisp/go-displaycache/source"
)

// Freshness describes how current a payload returned by Read is.
type Freshness int

const (
	// Fresh means the payload is within its TTL.
	Fresh Freshness = iota
	// Stale means the payload is past its TTL. Payloads past the maximum
	// staleness ceiling are still served with this tag.
	Stale
	// Pending means no payload is available yet but a fetch is underway or
	// scheduled.
	Pending
	// NeverFetched means the category has no payload and no fetch will
	// produce one without intervention, such as a disabled category.
	NeverFetched
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Pending:
		return "pending"
	case NeverFetched:
		return "never-fetched"
	}
	return "unknown"
}

// ErrorInfo is the persisted record of a category's last fetch failure.
type ErrorInfo struct {
	Kind    source.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Entry is the cached state of one category. Entries are created on the
// first fetch attempt, success or failure, and are only ever updated in
// place, never deleted. Values returned from the store are shared snapshots
// and must not be modified.
type Entry struct {
	Category     string          `json:"category"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at,omitempty"`
	TTL          time.Duration   `json:"ttl"`
	MaxStaleness time.Duration   `json:"max_staleness"`
	ErrorCount   int             `json:"error_count"`
	LastError    *ErrorInfo      `json:"last_error,omitempty"`
	Disabled     bool            `json:"disabled"`
}

// Result is what the read path returns to the route layer.
type Result struct {
	Payload   []byte
	Freshness Freshness
	// Age is the time since the payload was fetched. Zero when there is no
	// payload.
	Age time.Duration
	// Err is set only for configuration problems; transient and stale
	// conditions are expressed through Freshness alone.
	Err error
}
