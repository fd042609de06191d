package dcache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/pidisp/go-displaycache/dcache"
	"github.com/pidisp/go-displaycache/source"
)

func TestStorePutAndGet(t *testing.T) {
	ctx := context.Background()
	s, err := dcache.NewStore(ctx, nil)
	require.NoError(t, err)

	_, found := s.Get("weather")
	require.False(t, found)

	fetchedAt := time.Now()
	ent := s.Put(ctx, "weather", []byte(`{"temperature":72}`), fetchedAt, 30*time.Minute, 2*time.Hour)
	require.Equal(t, "weather", ent.Category)
	require.Equal(t, fetchedAt, ent.FetchedAt)
	require.Zero(t, ent.ErrorCount)
	require.Nil(t, ent.LastError)

	got, found := s.Get("weather")
	require.True(t, found)
	require.JSONEq(t, `{"temperature":72}`, string(got.Payload))
}

func TestStoreFailureKeepsPayload(t *testing.T) {
	ctx := context.Background()
	s, err := dcache.NewStore(ctx, nil)
	require.NoError(t, err)

	s.Put(ctx, "news", []byte(`[{"title":"hello"}]`), time.Now(), 15*time.Minute, time.Hour)

	ent := s.RecordFailure(ctx, "news", &source.TransientError{Err: errors.New("timeout")})
	require.Equal(t, 1, ent.ErrorCount)
	require.NotNil(t, ent.LastError)
	require.Equal(t, source.KindTransient, ent.LastError.Kind)
	require.JSONEq(t, `[{"title":"hello"}]`, string(ent.Payload))

	ent = s.RecordFailure(ctx, "news", &source.TransientError{Err: errors.New("timeout")})
	require.Equal(t, 2, ent.ErrorCount)

	// Success clears the failure streak.
	ent = s.Put(ctx, "news", []byte(`[]`), time.Now(), 15*time.Minute, time.Hour)
	require.Zero(t, ent.ErrorCount)
	require.Nil(t, ent.LastError)
}

func TestStoreConfigErrorMessage(t *testing.T) {
	ctx := context.Background()
	s, err := dcache.NewStore(ctx, nil)
	require.NoError(t, err)

	// The stored message is the bare reason, so rewrapping on the read path
	// does not double the prefix.
	ent := s.RecordFailure(ctx, "photos", &source.ConfigError{Reason: "missing access key"})
	require.Equal(t, source.KindConfig, ent.LastError.Kind)
	require.Equal(t, "missing access key", ent.LastError.Message)
}

func TestStoreDisabledFlag(t *testing.T) {
	ctx := context.Background()
	s, err := dcache.NewStore(ctx, nil)
	require.NoError(t, err)

	ent := s.SetDisabled(ctx, "photos", true)
	require.True(t, ent.Disabled)
	ent = s.SetDisabled(ctx, "photos", true)
	require.True(t, ent.Disabled)
	ent = s.SetDisabled(ctx, "photos", false)
	require.False(t, ent.Disabled)
}

func TestStoreReload(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	s1, err := dcache.NewStore(ctx, ds)
	require.NoError(t, err)
	fetchedAt := time.Now().UTC().Truncate(time.Second)
	s1.Put(ctx, "weather", []byte(`{"temperature":72}`), fetchedAt, 30*time.Minute, 2*time.Hour)
	s1.RecordFailure(ctx, "news", &source.TransientError{Err: errors.New("offline")})
	s1.SetDisabled(ctx, "photos", true)

	s2, err := dcache.NewStore(ctx, ds)
	require.NoError(t, err)

	weather, found := s2.Get("weather")
	require.True(t, found)
	require.JSONEq(t, `{"temperature":72}`, string(weather.Payload))
	require.True(t, fetchedAt.Equal(weather.FetchedAt))
	require.Equal(t, 30*time.Minute, weather.TTL)

	news, found := s2.Get("news")
	require.True(t, found)
	require.Equal(t, 1, news.ErrorCount)
	require.Equal(t, source.KindTransient, news.LastError.Kind)

	photos, found := s2.Get("photos")
	require.True(t, found)
	require.True(t, photos.Disabled)

	require.Len(t, s2.Entries(), 3)
}

type failPutDatastore struct {
	datastore.Datastore
}

func (f *failPutDatastore) Put(ctx context.Context, key datastore.Key, value []byte) error {
	return errors.New("disk full")
}

func TestStoreDegradesToMemoryOnly(t *testing.T) {
	ctx := context.Background()
	ds := &failPutDatastore{Datastore: datastore.NewMapDatastore()}

	s, err := dcache.NewStore(ctx, ds)
	require.NoError(t, err)

	// Persistence failure is absorbed; the in-memory entry is still served.
	ent := s.Put(ctx, "weather", []byte(`{"temperature":72}`), time.Now(), 30*time.Minute, 2*time.Hour)
	require.NotNil(t, ent)

	got, found := s.Get("weather")
	require.True(t, found)
	require.JSONEq(t, `{"temperature":72}`, string(got.Payload))

	s.Put(ctx, "news", []byte(`[]`), time.Now(), 15*time.Minute, time.Hour)
	_, found = s.Get("news")
	require.True(t, found)
}
