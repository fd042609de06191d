// Package config loads the display backend's configuration: one typed
// section per category plus cache and server settings. Configuration is
// validated once at load, so mistakes surface at startup instead of at
// arbitrary call sites. Missing credentials are not a load error; they
// produce a fetcher that fails deterministically with a configuration error,
// which disables the category on its first fetch attempt.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/pidisp/go-displaycache/dcache"
	"github.com/pidisp/go-displaycache/source"
)

var log = logging.Logger("config")

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30m" or "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %s", s, err)
	}
	*d = Duration(td)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Policy is the freshness policy shared by every category section.
type Policy struct {
	TTL             Duration `yaml:"ttl"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	MaxStaleness    Duration `yaml:"max_staleness"`
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"`
}

// Weather configures the OpenWeatherMap category.
type Weather struct {
	Policy    `yaml:",inline"`
	APIKey    string   `yaml:"api_key"`
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
	Units     string   `yaml:"units"`
}

// News configures the headline category.
type News struct {
	Policy `yaml:",inline"`
	Limit  int `yaml:"limit"`
}

// Quotes configures the quotation category.
type Quotes struct {
	Policy `yaml:",inline"`
}

// Photos configures the Unsplash category.
type Photos struct {
	Policy    `yaml:",inline"`
	AccessKey string `yaml:"access_key"`
	Query     string `yaml:"query"`
}

// Config is the complete daemon configuration.
type Config struct {
	Listen        string   `yaml:"listen"`
	DatastorePath string   `yaml:"datastore_path"`
	FetchTimeout  Duration `yaml:"fetch_timeout"`
	ReadWait      Duration `yaml:"read_wait"`
	Jitter        *float64 `yaml:"jitter"`

	Weather Weather `yaml:"weather"`
	News    News    `yaml:"news"`
	Quotes  Quotes  `yaml:"quotes"`
	Photos  Photos  `yaml:"photos"`
}

// Default returns the configuration used when no file is present. TTLs
// follow how quickly each source's data goes out of date; refresh intervals
// keep well under external API quotas.
func Default() Config {
	return Config{
		Listen:        ":5000",
		DatastorePath: "data/cache",
		FetchTimeout:  Duration(10 * time.Second),
		ReadWait:      Duration(5 * time.Second),
		Weather: Weather{
			Policy: Policy{
				TTL:             Duration(30 * time.Minute),
				RefreshInterval: Duration(15 * time.Minute),
				MaxStaleness:    Duration(2 * time.Hour),
				MaxRetryBackoff: Duration(time.Hour),
			},
			Units: "imperial",
		},
		News: News{
			Policy: Policy{
				TTL:             Duration(15 * time.Minute),
				RefreshInterval: Duration(15 * time.Minute),
				MaxStaleness:    Duration(2 * time.Hour),
				MaxRetryBackoff: Duration(time.Hour),
			},
			Limit: 10,
		},
		Quotes: Quotes{
			Policy: Policy{
				TTL:             Duration(time.Hour),
				RefreshInterval: Duration(time.Hour),
				MaxStaleness:    Duration(6 * time.Hour),
				MaxRetryBackoff: Duration(2 * time.Hour),
			},
		},
		Photos: Photos{
			Policy: Policy{
				TTL:             Duration(time.Hour),
				RefreshInterval: Duration(30 * time.Minute),
				MaxStaleness:    Duration(6 * time.Hour),
				MaxRetryBackoff: Duration(2 * time.Hour),
			},
		},
	}
}

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. A missing file is not an error: the defaults are
// used, and categories needing credentials disable themselves on first
// fetch.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("cannot read config file: %w", err)
		}
		log.Warnw("Config file not found, using defaults", "path", path)
	} else {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
		log.Infow("Loaded configuration", "path", path)
	}

	applyEnv(&cfg)

	if err = cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the config
// file, which keeps them out of version control.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WEATHER_API_KEY"); v != "" {
		cfg.Weather.APIKey = v
	}
	if v := os.Getenv("PHOTOS_ACCESS_KEY"); v != "" {
		cfg.Photos.AccessKey = v
	}
}

func (c *Config) validate() error {
	var errs error
	if c.Listen == "" {
		errs = multierror.Append(errs, fmt.Errorf("listen address is required"))
	}
	if c.FetchTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("fetch_timeout must be positive"))
	}
	if c.ReadWait <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("read_wait must be positive"))
	}
	if c.Jitter != nil && (*c.Jitter < 0 || *c.Jitter > 1) {
		errs = multierror.Append(errs, fmt.Errorf("jitter must be in [0, 1]"))
	}
	if c.News.Limit < 0 || c.News.Limit > 100 {
		errs = multierror.Append(errs, fmt.Errorf("news limit must be between 0 and 100"))
	}
	return errs
}

// Specs builds the category registry input from the configuration. Every
// category is always registered; ones with incomplete configuration get a
// fetcher that fails with a configuration error so they disable themselves.
func (c *Config) Specs(client *source.Client) []dcache.Spec {
	weatherFetch := source.Weather(source.WeatherConfig{
		APIKey:    c.Weather.APIKey,
		Latitude:  deref(c.Weather.Latitude),
		Longitude: deref(c.Weather.Longitude),
		Units:     c.Weather.Units,
	}, client)
	if c.Weather.APIKey != "" && (c.Weather.Latitude == nil || c.Weather.Longitude == nil) {
		weatherFetch = source.ConfigErrorFetcher("missing coordinates (weather.latitude, weather.longitude)")
	}

	return []dcache.Spec{
		{
			Category:        "weather",
			TTL:             c.Weather.TTL.Std(),
			MaxStaleness:    c.Weather.MaxStaleness.Std(),
			RefreshInterval: c.Weather.RefreshInterval.Std(),
			MaxRetryBackoff: c.Weather.MaxRetryBackoff.Std(),
			Fetch:           weatherFetch,
		},
		{
			Category:        "news",
			TTL:             c.News.TTL.Std(),
			MaxStaleness:    c.News.MaxStaleness.Std(),
			RefreshInterval: c.News.RefreshInterval.Std(),
			MaxRetryBackoff: c.News.MaxRetryBackoff.Std(),
			Fetch:           source.News(source.NewsConfig{Limit: c.News.Limit}, client),
		},
		{
			Category:        "quotes",
			TTL:             c.Quotes.TTL.Std(),
			MaxStaleness:    c.Quotes.MaxStaleness.Std(),
			RefreshInterval: c.Quotes.RefreshInterval.Std(),
			MaxRetryBackoff: c.Quotes.MaxRetryBackoff.Std(),
			Fetch:           source.Quote(source.QuoteConfig{}, client),
		},
		{
			Category:        "photos",
			TTL:             c.Photos.TTL.Std(),
			MaxStaleness:    c.Photos.MaxStaleness.Std(),
			RefreshInterval: c.Photos.RefreshInterval.Std(),
			MaxRetryBackoff: c.Photos.MaxRetryBackoff.Std(),
			Fetch: source.Photo(source.PhotoConfig{
				AccessKey: c.Photos.AccessKey,
				Query:     c.Photos.Query,
			}, client),
		},
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
