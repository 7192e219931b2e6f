package oauth

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// TwitterEndpoint is the OAuth 2.0 endpoint pair of the Twitter API v2.
var TwitterEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// DefaultScopes are requested when Config.Scopes is empty. offline.access is
// what makes the provider issue a refresh token.
var DefaultScopes = []string{"tweet.read", "users.read", "tweet.write", "offline.access"}

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultHTTPTimeout    = 15 * time.Second
)

// Config holds the client registration and transport settings.
type Config struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	RedirectURL  string
	Scopes       []string

	HTTPClient     *http.Client
	MaxAttempts    uint          // attempts per token request, including the first
	InitialBackoff time.Duration // first wait between attempts
}
