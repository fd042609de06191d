package source

import (
	"context"
	"encoding/json"
	"fmt"
)

const defaultQuoteURL = "https://zenquotes.io/api/random"

// QuoteConfig configures the quote-of-the-moment source. No credentials are
// required.
type QuoteConfig struct {
	// BaseURL overrides the ZenQuotes endpoint. Used in tests.
	BaseURL string
}

type zenQuote struct {
	Q string `json:"q"`
	A string `json:"a"`
}

type quotePayload struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// Quote returns a Fetcher for a random quotation from ZenQuotes.
func Quote(cfg QuoteConfig, client *Client) Fetcher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultQuoteURL
	}

	return func(ctx context.Context) ([]byte, error) {
		var quotes []zenQuote
		if err := client.GetJSON(ctx, baseURL, &quotes); err != nil {
			return nil, err
		}
		if len(quotes) == 0 || quotes[0].Q == "" {
			return nil, &TransientError{Err: fmt.Errorf("empty quote response")}
		}

		data, err := json.Marshal(&quotePayload{
			Text:   quotes[0].Q,
			Author: quotes[0].A,
		})
		if err != nil {
			return nil, &TransientError{Err: err}
		}
		return data, nil
	}
}
