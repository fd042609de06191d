package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

const defaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// WeatherConfig configures the OpenWeatherMap source.
type WeatherConfig struct {
	APIKey    string
	Latitude  float64
	Longitude float64
	// Units is "imperial" or "metric". Default is imperial.
	Units string
	// BaseURL overrides the OpenWeatherMap endpoint. Used in tests.
	BaseURL string
}

// openWeatherResponse is the subset of the OpenWeatherMap current-weather
// response that the display needs.
type openWeatherResponse struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
}

type weatherPayload struct {
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Condition   string  `json:"condition"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	City        string  `json:"city"`
	Units       string  `json:"units"`
	ObservedAt  string  `json:"observed_at"`
}

// Weather returns a Fetcher for current weather conditions from
// OpenWeatherMap. A missing API key yields a ConfigError fetcher so the
// category is disabled on its first attempt instead of burning quota.
func Weather(cfg WeatherConfig, client *Client) Fetcher {
	if cfg.APIKey == "" {
		return ConfigErrorFetcher("missing OpenWeatherMap API key (weather.api_key)")
	}
	units := cfg.Units
	if units == "" {
		units = "imperial"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultWeatherURL
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", cfg.Latitude))
	q.Set("lon", fmt.Sprintf("%g", cfg.Longitude))
	q.Set("appid", cfg.APIKey)
	q.Set("units", units)
	reqURL := baseURL + "?" + q.Encode()

	return func(ctx context.Context) ([]byte, error) {
		var resp openWeatherResponse
		if err := client.GetJSON(ctx, reqURL, &resp); err != nil {
			return nil, err
		}

		payload := weatherPayload{
			Temperature: resp.Main.Temp,
			FeelsLike:   resp.Main.FeelsLike,
			Humidity:    resp.Main.Humidity,
			WindSpeed:   resp.Wind.Speed,
			City:        resp.Name,
			Units:       units,
			ObservedAt:  time.Unix(resp.Dt, 0).UTC().Format(time.RFC3339),
		}
		if len(resp.Weather) != 0 {
			payload.Condition = resp.Weather[0].Main
			payload.Description = resp.Weather[0].Description
		}

		data, err := json.Marshal(&payload)
		if err != nil {
			return nil, &TransientError{Err: err}
		}
		return data, nil
	}
}
