// Package iam exchanges IBM Cloud API keys for short-lived IAM bearer tokens.
//
// Both hosted services EchoVerse talks to (watsonx.ai and Watson Text to
// Speech) authenticate with the same IAM flow. TokenSource plugs into
// golang.org/x/oauth2 so tokens are cached and refreshed shortly before they
// expire, and NewClient returns an *http.Client that attaches them.
package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the public IBM Cloud IAM token endpoint.
const DefaultTokenURL = "https://iam.cloud.ibm.com/identity/token"

const grantTypeAPIKey = "urn:ibm:params:oauth:grant-type:apikey"

// tokenResponse is the subset of the IAM token response we consume.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

// errorResponse is the IAM error envelope.
type errorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Option is a functional option for NewTokenSource.
type Option func(*apiKeySource)

// WithTokenURL overrides the IAM token endpoint (useful for private endpoints
// and tests).
func WithTokenURL(u string) Option {
	return func(s *apiKeySource) {
		s.tokenURL = u
	}
}

// WithHTTPClient sets the client used to call the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(s *apiKeySource) {
		s.httpClient = c
	}
}

// apiKeySource fetches a fresh token on every call; wrap it in
// oauth2.ReuseTokenSource for caching.
type apiKeySource struct {
	apiKey     string
	tokenURL   string
	httpClient *http.Client
}

// NewTokenSource returns a caching oauth2.TokenSource that exchanges apiKey for
// IAM access tokens.
func NewTokenSource(apiKey string, opts ...Option) (oauth2.TokenSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("iam: apiKey must not be empty")
	}
	s := &apiKeySource{
		apiKey:     apiKey,
		tokenURL:   DefaultTokenURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return oauth2.ReuseTokenSource(nil, s), nil
}

// NewClient returns an HTTP client that authenticates every request with a
// bearer token from ts. A zero timeout leaves the client without a deadline.
func NewClient(ts oauth2.TokenSource, timeout time.Duration) *http.Client {
	c := oauth2.NewClient(context.Background(), ts)
	c.Timeout = timeout
	return c
}

// Token implements oauth2.TokenSource.
func (s *apiKeySource) Token() (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeAPIKey)
	form.Set("apikey", s.apiKey)

	req, err := http.NewRequest(http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("iam: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iam: request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("iam: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.ErrorMessage != "" {
			return nil, fmt.Errorf("iam: token request failed with status %d: %s: %s", resp.StatusCode, e.ErrorCode, e.ErrorMessage)
		}
		return nil, fmt.Errorf("iam: token request failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("iam: decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("iam: response carries no access_token")
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   "Bearer",
	}
	switch {
	case tr.Expiration > 0:
		tok.Expiry = time.Unix(tr.Expiration, 0)
	case tr.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
