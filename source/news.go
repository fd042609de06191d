package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("source")

const (
	defaultNewsURL   = "https://hacker-news.firebaseio.com/v0"
	defaultNewsLimit = 10
	maxNewsLimit     = 30
)

// NewsConfig configures the Hacker News headline source.
type NewsConfig struct {
	// Limit is the maximum number of headlines per payload. Default 10,
	// capped at 30 to bound fetch fan-out.
	Limit int
	// BaseURL overrides the Hacker News API endpoint. Used in tests.
	BaseURL string
}

type hnItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	Time  int64  `json:"time"`
	Type  string `json:"type"`
}

type newsArticle struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	Published string `json:"published"`
	Score     int    `json:"score"`
}

// News returns a Fetcher for top Hacker News stories. The payload is a JSON
// array of articles in a unified shape shared with any future feed sources.
func News(cfg NewsConfig, client *Client) Fetcher {
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultNewsLimit
	} else if limit > maxNewsLimit {
		limit = maxNewsLimit
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultNewsURL
	}

	return func(ctx context.Context) ([]byte, error) {
		var ids []int64
		if err := client.GetJSON(ctx, baseURL+"/topstories.json", &ids); err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, &TransientError{Err: fmt.Errorf("empty top stories list")}
		}

		articles := make([]newsArticle, 0, limit)
		for _, id := range ids {
			if len(articles) == limit {
				break
			}
			if ctx.Err() != nil {
				return nil, &TransientError{Err: ctx.Err()}
			}
			var item hnItem
			itemURL := fmt.Sprintf("%s/item/%d.json", baseURL, id)
			if err := client.GetJSON(ctx, itemURL, &item); err != nil {
				// One bad item does not fail the batch.
				log.Debugw("Skipping story", "id", id, "err", err)
				continue
			}
			if item.Title == "" || item.Type != "story" {
				continue
			}
			link := item.URL
			if link == "" {
				link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", id)
			}
			articles = append(articles, newsArticle{
				Title:     item.Title,
				Link:      link,
				Source:    "Hacker News",
				Published: time.Unix(item.Time, 0).UTC().Format(time.RFC3339),
				Score:     item.Score,
			})
		}
		if len(articles) == 0 {
			return nil, &TransientError{Err: fmt.Errorf("no stories could be fetched")}
		}

		data, err := json.Marshal(articles)
		if err != nil {
			return nil, &TransientError{Err: err}
		}
		return data, nil
	}
}
