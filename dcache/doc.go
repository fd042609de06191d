// Package dcache provides a freshness-managed cache with a background refresh
// coordinator for display categories backed by slow, rate-limited external
// sources.
//
// Each registered category pairs a fetch capability with a freshness policy
// (TTL, maximum staleness, refresh interval, retry backoff cap). A background
// runner per category refreshes its entry on an independent timer, backing
// off exponentially after failures, honoring rate-limit hints, and disabling
// the category permanently when its configuration is broken. The read path
// never blocks on a network call except for a bounded wait when a category
// has never been fetched; otherwise it serves the last known payload tagged
// with its freshness.
//
// ## Serving While Degraded
//
// A fetch in progress or failing never removes the previous payload. Readers
// always see either a prior value with a freshness tag, or an explicit
// never-fetched result. Staleness is data, not an error: only configuration
// problems and the never-fetched case produce an error result.
//
// ## Fetch Exclusivity
//
// At most one fetch is in flight per category at any instant. Scheduler ticks
// and on-demand reads contend for a per-category flag, so fetching one
// category never delays another.
//
// ## Persistence
//
// Entries are written through to a datastore and reloaded at startup, so the
// display has data immediately after a restart. Storage failures degrade the
// cache to memory-only operation for the life of the process; they are logged
// and never surfaced to readers.
package dcache
