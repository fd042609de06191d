package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pidisp/go-displaycache/config"
	"github.com/pidisp/go-displaycache/source"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":5000", cfg.Listen)
	require.Equal(t, 30*time.Minute, cfg.Weather.TTL.Std())
	require.Equal(t, 15*time.Minute, cfg.Weather.RefreshInterval.Std())
	require.Equal(t, 10, cfg.News.Limit)
	require.Equal(t, 5*time.Second, cfg.ReadWait.Std())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
datastore_path: /var/lib/displaycached
fetch_timeout: 20s
weather:
  ttl: 10m
  refresh_interval: 5m
  api_key: abc123
  latitude: 40.71
  longitude: -74.01
  units: metric
news:
  limit: 5
photos:
  access_key: unsplash-key
  query: landscape
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, "/var/lib/displaycached", cfg.DatastorePath)
	require.Equal(t, 20*time.Second, cfg.FetchTimeout.Std())
	require.Equal(t, 10*time.Minute, cfg.Weather.TTL.Std())
	require.Equal(t, 5*time.Minute, cfg.Weather.RefreshInterval.Std())
	require.Equal(t, "abc123", cfg.Weather.APIKey)
	require.Equal(t, "metric", cfg.Weather.Units)
	require.NotNil(t, cfg.Weather.Latitude)
	require.Equal(t, 40.71, *cfg.Weather.Latitude)
	require.Equal(t, 5, cfg.News.Limit)
	require.Equal(t, "unsplash-key", cfg.Photos.AccessKey)
	// Untouched sections keep their defaults.
	require.Equal(t, time.Hour, cfg.Quotes.TTL.Std())
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "weather:\n  ttl: soon\n")
	_, err := config.Load(path)
	require.ErrorContains(t, err, "invalid duration")
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unterminated\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "env-weather")
	t.Setenv("PHOTOS_ACCESS_KEY", "env-photos")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "env-weather", cfg.Weather.APIKey)
	require.Equal(t, "env-photos", cfg.Photos.AccessKey)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
listen: ""
jitter: 1.5
news:
  limit: 500
`)
	_, err := config.Load(path)
	require.Error(t, err)
	require.ErrorContains(t, err, "listen address")
	require.ErrorContains(t, err, "jitter")
	require.ErrorContains(t, err, "news limit")
}

func TestSpecsRegisterAllCategories(t *testing.T) {
	cfg := config.Default()
	specs := cfg.Specs(source.NewClient(time.Second))
	require.Len(t, specs, 4)

	names := make(map[string]bool)
	for _, spec := range specs {
		names[spec.Category] = true
		require.NotNil(t, spec.Fetch)
		require.Positive(t, spec.TTL)
	}
	require.True(t, names["weather"])
	require.True(t, names["news"])
	require.True(t, names["quotes"])
	require.True(t, names["photos"])
}

func TestSpecsMissingCredentials(t *testing.T) {
	// No API keys at all: weather and photos get deterministic config-error
	// fetchers instead of being dropped.
	cfg := config.Default()
	specs := cfg.Specs(source.NewClient(time.Second))

	for _, spec := range specs {
		switch spec.Category {
		case "weather", "photos":
			_, err := spec.Fetch(context.Background())
			require.True(t, source.IsConfig(err))
		}
	}
}

func TestSpecsMissingCoordinates(t *testing.T) {
	cfg := config.Default()
	cfg.Weather.APIKey = "abc123"

	for _, spec := range cfg.Specs(source.NewClient(time.Second)) {
		if spec.Category != "weather" {
			continue
		}
		_, err := spec.Fetch(context.Background())
		require.True(t, source.IsConfig(err))
		require.ErrorContains(t, err, "weather.latitude")
	}
}
