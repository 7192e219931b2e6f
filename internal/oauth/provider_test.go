package oauth_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/markb/mentionbot/internal/oauth"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
	testRedirect     = "http://localhost:8080/oauth/callback"
)

// fakeProvider is an identity provider with PKCE and refresh token rotation.
type fakeProvider struct {
	srv *httptest.Server

	mu          sync.Mutex
	codes       map[string]string // code -> S256 challenge
	current     string            // the only refresh token currently accepted
	issued      int
	requests    int
	failNext    int // upcoming token requests answered with failCode
	failCode    int
	omitRefresh bool
	lastForm    url.Values
	lastAuth    string

	// barrier, when > 0, holds refresh requests until that many have arrived.
	barrier  int
	arrived  int
	released chan struct{}
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{codes: map[string]string{}, released: make(chan struct{})}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handleToken))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  p.srv.URL + "/i/oauth2/authorize",
		TokenURL: p.srv.URL + "/2/oauth2/token",
	}
}

func (p *fakeProvider) client(t *testing.T) *oauth.Client {
	t.Helper()
	c, err := oauth.NewClient(oauth.Config{
		ClientID:       testClientID,
		ClientSecret:   testClientSecret,
		Endpoint:       p.endpoint(),
		RedirectURL:    testRedirect,
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// authorize simulates the user approving the request and returns the code
// the provider would append to the redirect.
func (p *fakeProvider) authorize(challenge string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	code := fmt.Sprintf("code-%d", len(p.codes)+1)
	p.codes[code] = challenge
	return code
}

func (p *fakeProvider) stats() (requests, issued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests, p.issued
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if r.PostForm.Get("grant_type") == "refresh_token" {
		p.wait()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.lastForm = r.PostForm
	p.lastAuth = r.Header.Get("Authorization")

	if p.failNext > 0 {
		p.failNext--
		writeJSON(w, p.failCode, map[string]string{"error": "temporarily_unavailable"})
		return
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != testClientID || pass != testClientSecret || r.PostForm.Get("client_id") != testClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		challenge, ok := p.codes[r.PostForm.Get("code")]
		delete(p.codes, r.PostForm.Get("code"))
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if !ok || base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_request",
				"error_description": "Value passed for the authorization code was invalid.",
			})
			return
		}
		if r.PostForm.Get("redirect_uri") != testRedirect {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != p.current {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Value passed for the token was invalid.",
			})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	p.issued++
	p.current = fmt.Sprintf("refresh-%d", p.issued)
	resp := map[string]any{
		"token_type":    "bearer",
		"expires_in":    7200,
		"access_token":  fmt.Sprintf("access-%d", p.issued),
		"scope":         "tweet.read users.read tweet.write offline.access",
		"refresh_token": p.current,
	}
	if p.omitRefresh {
		delete(resp, "refresh_token")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *fakeProvider) wait() {
	p.mu.Lock()
	if p.barrier == 0 {
		p.mu.Unlock()
		return
	}
	p.arrived++
	if p.arrived == p.barrier {
		close(p.released)
	}
	p.mu.Unlock()

	select {
	case <-p.released:
	case <-time.After(5 * time.Second):
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
