package dcache

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pidisp/go-displaycache/source"
)

// Spec is the static fetch and freshness policy for one category.
type Spec struct {
	// Category is the unique name of the data source, e.g. "weather".
	Category string
	// TTL is how long a fetched payload is considered fresh.
	TTL time.Duration
	// MaxStaleness is the hard ceiling beyond which a payload is still
	// served but flagged. Defaults to 4x TTL.
	MaxStaleness time.Duration
	// RefreshInterval is how often the scheduler attempts a proactive
	// refresh. Must not exceed TTL.
	RefreshInterval time.Duration
	// MaxRetryBackoff caps the delay between retries after consecutive
	// failures. Defaults to 4x RefreshInterval.
	MaxRetryBackoff time.Duration
	// Fetch retrieves one payload for this category.
	Fetch source.Fetcher
}

// Registry is the static table of category specs. It is built once at
// startup and validated as a whole, so configuration mistakes surface before
// any request is served.
type Registry struct {
	specs map[string]*Spec
}

// NewRegistry validates the given specs and builds a Registry. All problems
// are reported together rather than one at a time.
func NewRegistry(specs ...Spec) (*Registry, error) {
	reg := &Registry{
		specs: make(map[string]*Spec, len(specs)),
	}

	var errs error
	for i := range specs {
		spec := specs[i]
		if spec.Category == "" {
			errs = multierror.Append(errs, fmt.Errorf("spec %d: category name is required", i))
			continue
		}
		if _, found := reg.specs[spec.Category]; found {
			errs = multierror.Append(errs, fmt.Errorf("category %q: registered more than once", spec.Category))
			continue
		}
		if spec.Fetch == nil {
			errs = multierror.Append(errs, fmt.Errorf("category %q: fetch capability is required", spec.Category))
		}
		if spec.TTL <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("category %q: ttl must be positive", spec.Category))
		}
		if spec.RefreshInterval <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("category %q: refresh interval must be positive", spec.Category))
		} else if spec.TTL > 0 && spec.RefreshInterval > spec.TTL {
			errs = multierror.Append(errs, fmt.Errorf("category %q: refresh interval %s exceeds ttl %s", spec.Category, spec.RefreshInterval, spec.TTL))
		}
		if spec.MaxStaleness == 0 {
			spec.MaxStaleness = 4 * spec.TTL
		} else if spec.MaxStaleness < spec.TTL {
			errs = multierror.Append(errs, fmt.Errorf("category %q: max staleness %s is less than ttl %s", spec.Category, spec.MaxStaleness, spec.TTL))
		}
		if spec.MaxRetryBackoff == 0 {
			spec.MaxRetryBackoff = 4 * spec.RefreshInterval
		} else if spec.MaxRetryBackoff < spec.RefreshInterval {
			errs = multierror.Append(errs, fmt.Errorf("category %q: max retry backoff %s is less than refresh interval %s", spec.Category, spec.MaxRetryBackoff, spec.RefreshInterval))
		}
		reg.specs[spec.Category] = &spec
	}
	if errs != nil {
		return nil, errs
	}
	if len(reg.specs) == 0 {
		return nil, fmt.Errorf("no categories registered")
	}
	return reg, nil
}

// Get returns the spec for a category.
func (r *Registry) Get(category string) (*Spec, bool) {
	spec, found := r.specs[category]
	return spec, found
}

// Categories returns all registered category names in sorted order.
func (r *Registry) Categories() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
