package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pidisp/go-displaycache/source"
)

func TestGetJSONDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"name":"ok","count":3}`))
	}))
	defer srv.Close()

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	client := source.NewClient(time.Second)
	err := client.GetJSON(context.Background(), srv.URL, &out)
	require.NoError(t, err)
	require.Equal(t, "ok", out.Name)
	require.Equal(t, 3, out.Count)
}

func TestGetJSONRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := source.NewClient(time.Second)
	err := client.GetJSON(context.Background(), srv.URL, &struct{}{})
	require.Error(t, err)

	rl, ok := source.AsRateLimit(err)
	require.True(t, ok)
	require.Equal(t, 2*time.Minute, rl.RetryAfter)
	require.Equal(t, source.KindRateLimit, source.ErrKind(err))
	// 429 is never retried internally; the scheduler owns that backoff.
	require.Equal(t, int32(1), calls.Load())
}

func TestGetJSONUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	client := source.NewClient(time.Second)
	err := client.GetJSON(context.Background(), srv.URL, &struct{}{})
	require.True(t, source.IsConfig(err))
	require.ErrorContains(t, err, "invalid api key")
}

func TestGetJSONServerErrorRetriesThenTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := source.NewClient(time.Second)
	err := client.GetJSON(context.Background(), srv.URL, &struct{}{})
	require.Error(t, err)
	require.Equal(t, source.KindTransient, source.ErrKind(err))
	require.False(t, source.IsConfig(err))
	// Initial attempt plus two retries.
	require.Equal(t, int32(3), calls.Load())
}

func TestGetJSONBadBodyIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := source.NewClient(time.Second)
	err := client.GetJSON(context.Background(), srv.URL, &struct{}{})
	require.Error(t, err)
	require.Equal(t, source.KindTransient, source.ErrKind(err))
}

func TestConfigErrorFetcher(t *testing.T) {
	fetch := source.ConfigErrorFetcher("missing api key")
	payload, err := fetch(context.Background())
	require.Nil(t, payload)
	require.True(t, source.IsConfig(err))
	require.EqualError(t, err, "configuration error: missing api key")

	// Deterministic: same failure every time.
	_, err2 := fetch(context.Background())
	require.Equal(t, err, err2)
}
