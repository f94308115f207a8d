package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/endpoints"
)

// DefaultHelixBaseURL is the production Helix API.
const DefaultHelixBaseURL = "https://api.twitch.tv"

// HelixClient resolves broadcaster logins to user ids using an app access
// token obtained via the client-credentials grant. The app token cannot be
// used for IRC chat; chat uses the per-user token from the auth file.
type HelixClient struct {
	ClientID    string
	BaseURL     string // defaults to DefaultHelixBaseURL
	HTTPClient  *http.Client
	TokenSource oauth2.TokenSource
}

// NewHelixClient builds a client with an app token source against the
// production identity service.
func NewHelixClient(clientID, clientSecret string) *HelixClient {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     endpoints.Twitch.TokenURL,
	}
	return &HelixClient{
		ClientID:    clientID,
		TokenSource: cc.TokenSource(context.Background()),
	}
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultHelixBaseURL
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUserID resolves a login name to its Twitch user id.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/helix/users", nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix users request failed: %s", resp.Status)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return body.Data[0].ID, nil
}
