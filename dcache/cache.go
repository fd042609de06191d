package dcache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-datastore"
	"github.com/jpillora/backoff"
	"github.com/pidisp/go-displaycache/source"
)

var ErrUnknownCategory = errors.New("unknown category")

// Cache is the freshness-managed cache and refresh coordinator. It owns the
// entry store and one background runner per registered category, and serves
// the read path consumed by the route layer. Construct it explicitly and pass
// it where needed; there is no package-level instance.
type Cache struct {
	store *Store
	reg   *Registry
	cats  map[string]*category

	clock        clock.Clock
	fetchTimeout time.Duration
	readWait     time.Duration
	jitter       float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runLock sync.Mutex
	closed  bool
}

// category pairs a spec with its fetch exclusivity state. The fetching flag
// is the per-category in-flight slot shared by the scheduler and on-demand
// reads; done is closed when the current fetch completes.
type category struct {
	spec *Spec

	mu       sync.Mutex
	fetching bool
	done     chan struct{}
	runner   bool
}

// beginFetch attempts to take the category's in-flight slot. If a fetch is
// already underway it returns that fetch's completion channel instead.
func (cat *category) beginFetch() (done chan struct{}, acquired bool) {
	cat.mu.Lock()
	defer cat.mu.Unlock()
	if cat.fetching {
		return cat.done, false
	}
	cat.fetching = true
	cat.done = make(chan struct{})
	return cat.done, true
}

// endFetch releases the in-flight slot and wakes any readers waiting on the
// fetch. The store must already reflect the fetch outcome.
func (cat *category) endFetch() {
	cat.mu.Lock()
	defer cat.mu.Unlock()
	cat.fetching = false
	close(cat.done)
	cat.done = nil
}

// fetchDone returns the completion channel of the fetch currently in flight,
// or nil when the category is idle.
func (cat *category) fetchDone() chan struct{} {
	cat.mu.Lock()
	defer cat.mu.Unlock()
	return cat.done
}

// New creates a Cache over the given datastore and registry and starts a
// refresh runner for every category that is not disabled. A nil datastore
// gives a memory-only cache.
func New(ds datastore.Datastore, reg *Registry, options ...Option) (*Cache, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}

	store, err := NewStore(context.Background(), ds)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store: store,
		reg:   reg,
		cats:  make(map[string]*category, len(reg.Categories())),

		clock:        opts.clock,
		fetchTimeout: opts.fetchTimeout,
		readWait:     opts.readWait,
		jitter:       opts.jitter,

		ctx:    ctx,
		cancel: cancel,
	}

	c.runLock.Lock()
	for _, name := range reg.Categories() {
		spec, _ := reg.Get(name)
		cat := &category{spec: spec}
		c.cats[name] = cat
		if ent, found := store.Get(name); found && ent.Disabled {
			log.Infow("Category is disabled, not scheduling", "category", name)
			continue
		}
		c.startRunner(cat)
	}
	c.runLock.Unlock()

	return c, nil
}

// Close stops all refresh timers, cancels in-flight fetches, and waits for
// background work to finish. The cache still serves reads from memory after
// closing; it only stops fetching.
func (c *Cache) Close() {
	c.runLock.Lock()
	if c.closed {
		c.runLock.Unlock()
		return
	}
	c.closed = true
	c.runLock.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Read returns a category's current payload and freshness. It never blocks
// on a fetch except for a bounded wait when the category has never been
// fetched. An error return means the category is unknown or ctx was
// canceled; configuration problems are reported in Result.Err.
func (c *Cache) Read(ctx context.Context, name string) (Result, error) {
	cat, found := c.cats[name]
	if !found {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}

	ent, found := c.store.Get(name)
	if found && ent.Disabled {
		return disabledResult(ent), nil
	}
	if !found {
		return c.readNeverFetched(ctx, cat)
	}
	if len(ent.Payload) == 0 {
		// Only failed attempts so far. Join an in-flight fetch if there is
		// one; otherwise report pending and leave retrying to the
		// scheduler's backoff.
		if done := cat.fetchDone(); done != nil {
			return c.awaitFetch(ctx, cat, done)
		}
		return Result{Freshness: Pending}, nil
	}

	age := c.clock.Now().Sub(ent.FetchedAt)
	if age <= cat.spec.TTL {
		return Result{Payload: ent.Payload, Freshness: Fresh, Age: age}, nil
	}

	// Expired. Serve the previous payload immediately and refresh in the
	// background. Past max staleness the payload is still served, only ever
	// tagged stale.
	c.triggerFetch(cat)
	return Result{Payload: ent.Payload, Freshness: Stale, Age: age}, nil
}

// Categories returns the registered category names.
func (c *Cache) Categories() []string {
	return c.reg.Categories()
}

// Entries returns a snapshot of all cache entries, for status reporting.
func (c *Cache) Entries() []*Entry {
	return c.store.Entries()
}

// Enable clears a category's disabled flag and failure state and resumes
// scheduling it. Used after missing configuration has been supplied.
func (c *Cache) Enable(name string) error {
	cat, found := c.cats[name]
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}
	c.store.SetDisabled(context.Background(), name, false)
	c.store.resetFailures(context.Background(), name)

	c.runLock.Lock()
	c.startRunner(cat)
	c.runLock.Unlock()

	log.Infow("Category enabled", "category", name)
	return nil
}

// Disable marks a category so it is neither scheduled nor fetched on demand.
// Idempotent. The category's runner exits at its next tick.
func (c *Cache) Disable(name string) error {
	if _, found := c.cats[name]; !found {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}
	c.store.SetDisabled(context.Background(), name, true)
	log.Infow("Category disabled", "category", name)
	return nil
}

// startRunner launches the refresh runner for cat if it is not already
// running. The caller must hold runLock.
func (c *Cache) startRunner(cat *category) {
	if cat.runner || c.closed {
		return
	}
	cat.runner = true
	c.wg.Add(1)
	go c.runCategory(cat)
}

// runCategory is the per-category refresh loop: wait for the timer, fetch
// unless the category is disabled or already fetching, then reschedule based
// on the outcome. It exits when the category is disabled or the cache closes.
func (c *Cache) runCategory(cat *category) {
	defer func() {
		c.runLock.Lock()
		cat.runner = false
		c.runLock.Unlock()
		c.wg.Done()
	}()

	spec := cat.spec
	retry := &backoff.Backoff{
		Min:    spec.RefreshInterval,
		Max:    spec.MaxRetryBackoff,
		Factor: 2,
	}

	timer := c.clock.Timer(c.initialDelay(spec))
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}

		if ent, found := c.store.Get(spec.Category); found && ent.Disabled {
			return
		}

		next := c.scheduledRefresh(cat, retry)
		if next < 0 {
			// Configuration error disabled the category.
			return
		}
		timer.Reset(next)
	}
}

// initialDelay schedules a runner's first tick. A category with a fresh
// persisted entry waits out the remainder of its refresh interval; anything
// else is fetched immediately.
func (c *Cache) initialDelay(spec *Spec) time.Duration {
	ent, found := c.store.Get(spec.Category)
	if !found || ent.FetchedAt.IsZero() {
		return 0
	}
	age := c.clock.Now().Sub(ent.FetchedAt)
	if age >= spec.RefreshInterval {
		return 0
	}
	return spec.RefreshInterval - age
}

// scheduledRefresh performs one scheduler-driven fetch and returns the delay
// until the next tick, or a negative duration when scheduling must stop.
func (c *Cache) scheduledRefresh(cat *category, retry *backoff.Backoff) time.Duration {
	spec := cat.spec

	if _, acquired := cat.beginFetch(); !acquired {
		// An on-demand fetch is in flight; skip this tick.
		return spec.RefreshInterval
	}

	err := c.fetchOnce(cat)
	if err == nil {
		return c.withJitter(spec.RefreshInterval)
	}
	if source.IsConfig(err) {
		return -1
	}
	if rl, isRL := source.AsRateLimit(err); isRL && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	// Transient: refresh_interval * 2^(failures-1), capped.
	attempt := 0
	if ent, found := c.store.Get(spec.Category); found && ent.ErrorCount > 0 {
		attempt = ent.ErrorCount - 1
	}
	return retry.ForAttempt(float64(attempt))
}

// fetchOnce runs a single fetch for cat under the fetch timeout and applies
// the outcome to the store. The caller must hold the in-flight slot;
// fetchOnce releases it after the store is updated.
func (c *Cache) fetchOnce(cat *category) error {
	defer cat.endFetch()

	spec := cat.spec
	fctx, fcancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	payload, err := spec.Fetch(fctx)
	fcancel()

	if err == nil {
		c.store.Put(context.Background(), spec.Category, payload, c.clock.Now(), spec.TTL, spec.MaxStaleness)
		log.Debugw("Fetched category", "category", spec.Category, "bytes", len(payload))
		return nil
	}

	ent := c.store.RecordFailure(context.Background(), spec.Category, err)
	if source.IsConfig(err) {
		c.store.SetDisabled(context.Background(), spec.Category, true)
		log.Errorw("Disabling category until its configuration is corrected", "category", spec.Category, "err", err)
	} else {
		log.Warnw("Cannot fetch category", "category", spec.Category, "consecutiveFailures", ent.ErrorCount, "err", err)
	}
	return err
}

// triggerFetch starts a background on-demand fetch unless one is already in
// flight or the cache is closing.
func (c *Cache) triggerFetch(cat *category) {
	if c.ctx.Err() != nil {
		return
	}
	if _, acquired := cat.beginFetch(); !acquired {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.fetchOnce(cat)
	}()
}

// readNeverFetched handles a read of a category with no entry: start or join
// a fetch and wait for it up to the bounded read wait.
func (c *Cache) readNeverFetched(ctx context.Context, cat *category) (Result, error) {
	if c.ctx.Err() != nil {
		return Result{Freshness: Pending}, nil
	}

	done, acquired := cat.beginFetch()
	if acquired {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = c.fetchOnce(cat)
		}()
	}
	return c.awaitFetch(ctx, cat, done)
}

// awaitFetch blocks until the fetch signaled by done completes, the bounded
// wait elapses, or the caller gives up, then reports the category's state.
// A fetch that outlives the wait still updates the entry for later reads.
func (c *Cache) awaitFetch(ctx context.Context, cat *category, done <-chan struct{}) (Result, error) {
	timer := c.clock.Timer(c.readWait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return Result{Freshness: Pending}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	ent, found := c.store.Get(cat.spec.Category)
	if !found {
		return Result{Freshness: Pending}, nil
	}
	if ent.Disabled {
		return disabledResult(ent), nil
	}
	if len(ent.Payload) != 0 {
		age := c.clock.Now().Sub(ent.FetchedAt)
		freshness := Fresh
		if age > cat.spec.TTL {
			freshness = Stale
		}
		return Result{Payload: ent.Payload, Freshness: freshness, Age: age}, nil
	}
	return Result{Freshness: Pending}, nil
}

// disabledResult reports a disabled category: the recorded configuration
// problem, with no payload.
func disabledResult(ent *Entry) Result {
	reason := "category is disabled"
	if ent.LastError != nil {
		reason = ent.LastError.Message
	}
	return Result{
		Freshness: NeverFetched,
		Err:       &source.ConfigError{Reason: reason},
	}
}

// withJitter adds a small random delay so categories sharing a remote host
// do not tick in lockstep.
func (c *Cache) withJitter(d time.Duration) time.Duration {
	if c.jitter == 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*c.jitter*float64(d))
}
