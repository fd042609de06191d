package source

import (
	"context"
	"encoding/json"
	"net/url"
)

const defaultPhotoURL = "https://api.unsplash.com/photos/random"

// PhotoConfig configures the Unsplash photo source.
type PhotoConfig struct {
	AccessKey string
	// Query biases the random photo selection, e.g. "landscape,nature".
	Query string
	// BaseURL overrides the Unsplash endpoint. Used in tests.
	BaseURL string
}

type unsplashResponse struct {
	URLs struct {
		Regular string `json:"regular"`
	} `json:"urls"`
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Description    string `json:"description"`
	AltDescription string `json:"alt_description"`
}

type photoPayload struct {
	URL         string `json:"url"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// Photo returns a Fetcher for a random photo from Unsplash. A missing access
// key yields a ConfigError fetcher, so an unconfigured photos category is
// disabled on its first attempt.
func Photo(cfg PhotoConfig, client *Client) Fetcher {
	if cfg.AccessKey == "" {
		return ConfigErrorFetcher("missing Unsplash access key (photos.access_key)")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultPhotoURL
	}

	q := url.Values{}
	q.Set("client_id", cfg.AccessKey)
	q.Set("orientation", "landscape")
	if cfg.Query != "" {
		q.Set("query", cfg.Query)
	}
	reqURL := baseURL + "?" + q.Encode()

	return func(ctx context.Context) ([]byte, error) {
		var resp unsplashResponse
		if err := client.GetJSON(ctx, reqURL, &resp); err != nil {
			return nil, err
		}

		desc := resp.Description
		if desc == "" {
			desc = resp.AltDescription
		}
		data, err := json.Marshal(&photoPayload{
			URL:         resp.URLs.Regular,
			Author:      resp.User.Name,
			Description: desc,
		})
		if err != nil {
			return nil, &TransientError{Err: err}
		}
		return data, nil
	}
}
