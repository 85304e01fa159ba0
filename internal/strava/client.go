package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const BaseURL = "https://www.strava.com/api/v3"

// ErrFetchFailed is matched by every stream retrieval failure
var ErrFetchFailed = errors.New("stream fetch failed")

// FetchError carries the status of a failed Strava call.
// StatusCode is 0 for transport errors and timeouts.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %v", ErrFetchFailed, e.Err)
	}
	return fmt.Sprintf("%v: API error %d: %s", ErrFetchFailed, e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// Options configures a Client
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration // applied to every outbound call
	HTTPClient   *http.Client  // overrides Timeout when set
}

// Client is a Strava API client. Access tokens are supplied per call so one
// client serves every athlete.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	rateLimiter  *RateLimiter
}

// NewClient creates a new Strava API client
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = BaseURL
	}

	return &Client{
		baseURL:      baseURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		httpClient:   httpClient,
		rateLimiter:  NewRateLimiter(),
	}
}

// GetActivityStreams fetches the requested channels for an activity in one call.
// Strava returns the whole series, so there is no pagination.
func (c *Client) GetActivityStreams(ctx context.Context, accessToken string, activityID int64, channels []Channel) (StreamBundle, error) {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	if err := c.rateLimiter.Reserve(ctx); err != nil {
		return nil, &FetchError{Err: err}
	}

	keys := make([]string, len(channels))
	for i, ch := range channels {
		keys[i] = string(ch)
	}
	params := url.Values{}
	params.Set("keys", strings.Join(keys, ","))
	params.Set("key_by_type", "true")

	path := fmt.Sprintf("/activities/%d/streams", activityID)
	resp, err := c.get(ctx, accessToken, path, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Decode lazily so unexpected non-numeric streams (latlng) don't fail the response
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding streams: %w", err)}
	}

	bundle := make(StreamBundle, len(channels))
	for _, ch := range channels {
		msg, ok := raw[string(ch)]
		if !ok {
			continue
		}
		var stream StreamData[*float64]
		if err := json.Unmarshal(msg, &stream); err != nil {
			return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding %s stream: %w", ch, err)}
		}
		if len(stream.Data) > 0 {
			bundle[ch] = stream.Data
		}
	}

	return bundle, nil
}

// RateLimitStatus returns the current rate limit status
func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	// Update rate limiter from response headers
	c.rateLimiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}
