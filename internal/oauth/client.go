package oauth

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

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/codec"
	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/tokens"
)

const maxTokenResponse = 1 << 20

// Client talks to the provider's authorize and token endpoints.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient validates cfg and returns a Client. ClientID, ClientSecret and
// both endpoint URLs are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint.AuthURL == "" && cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = TwitterEndpoint
	}
	switch {
	case cfg.ClientID == "":
		return nil, fmt.Errorf("%w: client id is required", autherr.ErrConfig)
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("%w: client secret is required", autherr.ErrConfig)
	case cfg.Endpoint.AuthURL == "" || cfg.Endpoint.TokenURL == "":
		return nil, fmt.Errorf("%w: authorize and token URLs are required", autherr.ErrConfig)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}, nil
}

// ClientID returns the registered client identity.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// RedirectURL returns the configured callback URL.
func (c *Client) RedirectURL() string {
	return c.cfg.RedirectURL
}

// Scopes returns the scopes requested during authorization.
func (c *Client) Scopes() []string {
	return c.cfg.Scopes
}

// BuildAuthorizeURL returns the provider URL the user has to visit. Only the
// S256 challenge is included, never the verifier.
func (c *Client) BuildAuthorizeURL(redirectURI string, scopes []string, state, challenge string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("%w: state is required", autherr.ErrConfig)
	}
	if challenge == "" {
		return "", fmt.Errorf("%w: code challenge is required", autherr.ErrConfig)
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURL
	}
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}

	oc := &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		Endpoint:    c.cfg.Endpoint,
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
	return oc.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// ExchangeCode redeems an authorization code for the first token pair.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*tokens.Pair, error) {
	if code == "" || verifier == "" {
		return nil, fmt.Errorf("%w: code and verifier are required", autherr.ErrConfig)
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURL
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)
	form.Set("client_id", c.cfg.ClientID)

	pair, err := c.tokenRequest(ctx, form, classifyExchange)
	if err != nil {
		// Transient failures that outlived the retries still fail the
		// exchange; they keep ErrNetwork so callers can tell them apart.
		if !errors.Is(err, autherr.ErrAuthExchangeFailed) && !errors.Is(err, autherr.ErrConfig) {
			return nil, fmt.Errorf("exchange code: %w: %w", autherr.ErrAuthExchangeFailed, err)
		}
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return pair, nil
}

// Refresh rotates refreshToken. The provider invalidates refreshToken once
// this call succeeds.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", autherr.ErrConfig)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)

	pair, err := c.tokenRequest(ctx, form, classifyRefresh)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return pair, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// classifier maps a non-2xx, non-transient provider response to an error kind.
type classifier func(status int, code string) error

func classifyExchange(int, string) error {
	return autherr.ErrAuthExchangeFailed
}

func classifyRefresh(status int, code string) error {
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || code == "invalid_grant" {
		return autherr.ErrAuthExpired
	}
	return autherr.ErrAuthExchangeFailed
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values, classify classifier) (*tokens.Pair, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff

	pair, err := backoff.Retry(ctx, func() (*tokens.Pair, error) {
		p, err := c.postToken(ctx, form, classify)
		if err != nil && !autherr.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("token request failed, retrying", "grant_type", form.Get("grant_type"),
				"error", err, "wait", wait)
		}),
	)
	if err != nil {
		var pe *autherr.ProviderError
		if !errors.As(err, &pe) && !errors.Is(err, autherr.ErrNetwork) {
			// Context cancellation or deadline while waiting between attempts.
			err = fmt.Errorf("%w: %v", autherr.ErrNetwork, err)
		}
		return nil, err
	}
	return pair, nil
}

func (c *Client) postToken(ctx context.Context, form url.Values, classify classifier) (*tokens.Pair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", autherr.ErrConfig, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", codec.BasicAuth(c.cfg.ClientID, c.cfg.ClientSecret))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read token response: %v", autherr.ErrNetwork, err)
	}

	var tr tokenResponse
	// Error bodies are not always JSON; the status code alone still classifies them.
	_ = json.Unmarshal(body, &tr)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &autherr.ProviderError{
			Kind:        autherr.ErrNetwork,
			StatusCode:  resp.StatusCode,
			Code:        tr.Error,
			Description: tr.ErrorDescription,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &autherr.ProviderError{
			Kind:        classify(resp.StatusCode, tr.Error),
			StatusCode:  resp.StatusCode,
			Code:        tr.Error,
			Description: tr.ErrorDescription,
		}
	case tr.AccessToken == "" || tr.RefreshToken == "":
		return nil, &autherr.ProviderError{
			Kind:        autherr.ErrAuthExchangeFailed,
			StatusCode:  resp.StatusCode,
			Code:        tr.Error,
			Description: "token response is missing access_token or refresh_token",
		}
	}

	now := c.now().UTC()
	pair := &tokens.Pair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IssuedAt:     now,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
	}
	if tr.ExpiresIn > 0 {
		pair.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return pair, nil
}
