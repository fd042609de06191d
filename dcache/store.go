package dcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pidisp/go-displaycache/source"
)

var log = logging.Logger("dcache")

const entryKeyPrefix = "/entry/"

// Store holds the cache entries for all categories. Reads are lock-free: the
// entry map is an immutable snapshot swapped atomically on every mutation, so
// readers never wait on writers. Mutations are serialized by a write lock and
// written through to the datastore on a best-effort basis.
type Store struct {
	read atomic.Pointer[map[string]*Entry]

	writeLock sync.Mutex
	ds        datastore.Datastore
	memOnly   bool
}

// NewStore creates a Store backed by ds and loads any entries persisted by a
// previous run. A nil datastore gives a memory-only store.
func NewStore(ctx context.Context, ds datastore.Datastore) (*Store, error) {
	s := &Store{
		ds: ds,
	}
	entries := make(map[string]*Entry)
	if ds != nil {
		results, err := ds.Query(ctx, query.Query{Prefix: entryKeyPrefix})
		if err != nil {
			return nil, err
		}
		defer results.Close()
		for result := range results.Next() {
			if result.Error != nil {
				return nil, result.Error
			}
			ent := new(Entry)
			if err = json.Unmarshal(result.Value, ent); err != nil {
				// A corrupt row loses one entry, not the store.
				log.Errorw("Cannot decode persisted cache entry", "key", result.Key, "err", err)
				continue
			}
			entries[ent.Category] = ent
		}
		log.Infow("Loaded persisted cache entries", "count", len(entries))
	}
	s.read.Store(&entries)
	return s, nil
}

// Get returns the entry for a category. The returned entry is a shared
// snapshot and must not be modified.
func (s *Store) Get(category string) (*Entry, bool) {
	ent, found := s.snapshot()[category]
	return ent, found
}

// Entries returns a snapshot of all entries.
func (s *Store) Entries() []*Entry {
	snap := s.snapshot()
	ents := make([]*Entry, 0, len(snap))
	for _, ent := range snap {
		ents = append(ents, ent)
	}
	return ents
}

// Put replaces a category's payload, records when it was fetched, and clears
// the failure state.
func (s *Store) Put(ctx context.Context, category string, payload []byte, fetchedAt time.Time, ttl, maxStaleness time.Duration) *Entry {
	return s.update(ctx, category, func(ent *Entry) {
		ent.Payload = payload
		ent.FetchedAt = fetchedAt
		ent.TTL = ttl
		ent.MaxStaleness = maxStaleness
		ent.ErrorCount = 0
		ent.LastError = nil
	})
}

// RecordFailure increments a category's consecutive failure count and records
// the error. The previous payload, if any, is untouched.
func (s *Store) RecordFailure(ctx context.Context, category string, fetchErr error) *Entry {
	return s.update(ctx, category, func(ent *Entry) {
		ent.ErrorCount++
		ent.LastError = &ErrorInfo{
			Kind:    source.ErrKind(fetchErr),
			Message: errMessage(fetchErr),
		}
	})
}

// errMessage records a configuration error by its bare reason so that the
// read path can rewrap it without doubling the prefix.
func errMessage(err error) string {
	var ce *source.ConfigError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

// SetDisabled sets or clears a category's disabled flag. Idempotent.
func (s *Store) SetDisabled(ctx context.Context, category string, disabled bool) *Entry {
	return s.update(ctx, category, func(ent *Entry) {
		ent.Disabled = disabled
	})
}

// resetFailures clears the failure state without touching the payload. Used
// when a category is manually re-enabled so retry backoff starts from its
// base interval.
func (s *Store) resetFailures(ctx context.Context, category string) *Entry {
	return s.update(ctx, category, func(ent *Entry) {
		ent.ErrorCount = 0
		ent.LastError = nil
	})
}

func (s *Store) snapshot() map[string]*Entry {
	return *s.read.Load()
}

// update applies fn to a copy of the category's entry, creating it if absent,
// publishes a new snapshot, and persists the changed entry.
func (s *Store) update(ctx context.Context, category string, fn func(*Entry)) *Entry {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	cur := s.snapshot()
	next := make(map[string]*Entry, len(cur)+1)
	for name, ent := range cur {
		next[name] = ent
	}

	var ent Entry
	if prev, found := cur[category]; found {
		ent = *prev
	}
	ent.Category = category
	fn(&ent)
	next[category] = &ent
	s.read.Store(&next)

	s.persist(ctx, &ent)
	return &ent
}

// persist writes one entry through to the datastore. The first failure
// degrades the store to memory-only for the rest of the process lifetime;
// persistence trouble is never the reader's problem.
func (s *Store) persist(ctx context.Context, ent *Entry) {
	if s.ds == nil || s.memOnly {
		return
	}
	data, err := json.Marshal(ent)
	if err != nil {
		log.Errorw("Cannot encode cache entry", "category", ent.Category, "err", err)
		return
	}
	if err = s.ds.Put(ctx, datastore.NewKey(entryKeyPrefix+ent.Category), data); err != nil {
		s.memOnly = true
		log.Errorw("Cache persistence failed, continuing memory-only", "category", ent.Category, "err", err)
	}
}
