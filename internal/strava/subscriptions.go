package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// CreateSubscription registers the webhook callback URL with Strava.
// The response is returned as Strava sent it, success or not; the error is
// only set when no response was received.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*ProviderResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", verifyToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push_subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.passThrough(req)
}

// ListSubscriptions returns the application's current subscription
func (c *Client) ListSubscriptions(ctx context.Context) (*ProviderResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/push_subscriptions?"+c.appCredentials().Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.passThrough(req)
}

// DeleteSubscription removes a subscription by id
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID int64) (*ProviderResponse, error) {
	reqURL := fmt.Sprintf("%s/push_subscriptions/%d?%s", c.baseURL, subscriptionID, c.appCredentials().Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.passThrough(req)
}

func (c *Client) appCredentials() url.Values {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("client_secret", c.clientSecret)
	return params
}

func (c *Client) passThrough(req *http.Request) (*ProviderResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Keep client_secret out of logged errors
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
		}
		return nil, fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &ProviderResponse{StatusCode: resp.StatusCode, Body: body}, nil
}
