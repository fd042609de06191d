package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultRetryMax     = 2
	defaultRetryWaitMin = 250 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
)

// Client is the HTTP client shared by the concrete data sources. It retries
// transport errors and 5xx responses a bounded number of times, and maps
// terminal failures onto the package error taxonomy. Rate-limit responses are
// never retried internally; backoff across attempts is owned by the refresh
// scheduler, which sees the RateLimitError and its Retry-After hint.
type Client struct {
	client *http.Client
}

// NewClient creates a Client with the given per-request timeout. A zero
// timeout uses the default of 10 seconds.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	rclient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		RetryWaitMin: defaultRetryWaitMin,
		RetryWaitMax: defaultRetryWaitMax,
		RetryMax:     defaultRetryMax,
		CheckRetry:   checkRetry,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return &Client{
		client: rclient.StandardClient(),
	}
}

// checkRetry is the default retry policy minus 429 handling. A 429 must reach
// the caller so its Retry-After hint can drive the scheduler's backoff.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// GetJSON issues a GET against u and decodes the JSON response into out.
// Failures are returned as TransientError, RateLimitError, or ConfigError.
func (c *Client) GetJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &TransientError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(resp, body)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Err: fmt.Errorf("cannot decode response: %w", err)}
	}
	return nil
}

// classifyStatus maps a non-200 response onto the error taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	err := fmt.Errorf("%s: %s", resp.Status, string(body))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        err,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ConfigError{Reason: fmt.Sprintf("request rejected by source: %s", err)}
	}
	return &TransientError{Err: err}
}

// parseRetryAfter interprets a Retry-After header value, either a number of
// seconds or an HTTP date. Returns zero if the value is absent or malformed.
func parseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
