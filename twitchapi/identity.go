// Package twitchapi contains minimal clients for the Twitch identity service
// (token validation and the refresh_token grant) and for the Helix API (login
// to user id resolution using an app access token).
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultIdentityBaseURL is the production Twitch identity service.
const DefaultIdentityBaseURL = "https://id.twitch.tv"

// ErrMalformedGrant is returned when the token endpoint answered 2xx but the
// body is missing a usable access_token/refresh_token pair. Callers must not
// persist anything in that case.
var ErrMalformedGrant = errors.New("token exchange response missing access_token or refresh_token")

// RefreshResult is the response of a successful refresh_token grant.
type RefreshResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// IdentityClient talks to the Twitch identity service. The zero value is not
// usable; ClientID and ClientSecret are required for Refresh.
type IdentityClient struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // defaults to DefaultIdentityBaseURL
	HTTPClient   *http.Client
}

func (c *IdentityClient) base() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return DefaultIdentityBaseURL
}

func (c *IdentityClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Validate asks the identity service whether accessToken is still accepted.
// The answer is authoritative only when the service responded: a 2xx body
// carrying a non-empty client_id means valid, any other response means
// invalid. A transport failure returns an error and says nothing about the
// token.
func (c *IdentityClient) Validate(ctx context.Context, accessToken string) (bool, error) {
	if accessToken == "" {
		return false, errors.New("access token is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/oauth2/validate", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return false, fmt.Errorf("validate request: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// 2xx with an unreadable body is an authoritative reject.
		return false, nil
	}
	return body.ClientID != "", nil
}

// Refresh exchanges refreshToken for a new token pair. Both tokens must come
// back non-empty or the exchange fails with ErrMalformedGrant.
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, errors.New("missing client id/secret for token refresh")
	}
	if refreshToken == "" {
		return nil, errors.New("refresh token is empty")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token exchange failed: %s: %s", resp.Status, string(b))
	}
	var res RefreshResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode token exchange response: %w", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		return nil, ErrMalformedGrant
	}
	return &res, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
