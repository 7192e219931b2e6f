package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markb/mentionbot/internal/authenticator"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/server"
	"github.com/markb/mentionbot/internal/store"
	"github.com/markb/mentionbot/internal/tokens"
	"github.com/markb/mentionbot/internal/twitter"
)

const clientID = "integration-client"

// provider issues rotating token pairs and serves the tweet endpoint.
type provider struct {
	mu      sync.Mutex
	refresh string
	access  string
	issued  int
	replies []string
}

func (p *provider) mint() map[string]any {
	p.issued++
	p.access = fmt.Sprintf("access-%d", p.issued)
	p.refresh = fmt.Sprintf("refresh-%d", p.issued)
	return map[string]any{
		"access_token":  p.access,
		"refresh_token": p.refresh,
		"expires_in":    7200,
		"token_type":    "bearer",
	}
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/2/oauth2/token":
		r.ParseForm()
		ok := false
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			ok = r.PostForm.Get("code") == "auth-code" && r.PostForm.Get("code_verifier") != ""
		case "refresh_token":
			ok = r.PostForm.Get("refresh_token") == p.refresh
		}
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		json.NewEncoder(w).Encode(p.mint())
	case "/2/tweets":
		if r.Header.Get("Authorization") != "Bearer "+p.access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		p.replies = append(p.replies, body.Text)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"id":"%d","text":%q}}`, len(p.replies), body.Text)
	default:
		http.NotFound(w, r)
	}
}

func (p *provider) stats() (int, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issued, append([]string(nil), p.replies...)
}

func openBackend(t *testing.T, path string) *store.Backend {
	t.Helper()
	b, err := store.New(t.Context(), store.Config{Type: store.TypeSQLite, SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestAuthorizeRotateAndReply(t *testing.T) {
	p := &provider{}
	api := httptest.NewServer(p)
	defer api.Close()

	ep := oauth.TwitterEndpoint
	ep.AuthURL = api.URL + "/i/oauth2/authorize"
	ep.TokenURL = api.URL + "/2/oauth2/token"
	client, err := oauth.NewClient(oauth.Config{
		ClientID:       clientID,
		ClientSecret:   "integration-secret",
		RedirectURL:    "http://localhost/oauth/callback",
		Endpoint:       ep,
		InitialBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	// Two processes sharing one database file.
	dbPath := filepath.Join(t.TempDir(), "mentionbot.db")
	first := openBackend(t, dbPath)
	second := openBackend(t, dbPath)
	mgrA := tokens.NewManager(clientID, first.Tokens, client)
	mgrB := tokens.NewManager(clientID, second.Tokens, client)

	srv := server.New(server.Options{Flow: oauth.NewFlow(client, first.Flows, mgrA)})

	// 1. authorize
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/oauth/authorize", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	// 2. callback
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/oauth/callback?code=auth-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	initial, err := mgrB.Current(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", initial.RefreshToken)

	// 3. both processes rotate the same pair
	var wg sync.WaitGroup
	results := make([]*tokens.Pair, 2)
	errs := make([]error, 2)
	for i, m := range []*tokens.Manager{mgrA, mgrB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.RefreshAccessToken(t.Context(), *initial)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].RefreshToken, results[1].RefreshToken)
	issued, _ := p.stats()
	assert.Equal(t, 2, issued, "one code exchange and one refresh")

	stored, err := mgrA.Current(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
	assert.Equal(t, initial.Version+1, stored.Version)

	// 4. reply with the rotated access token
	tw := twitter.NewClient(authenticator.StaticBearer("unused"), &authenticator.Bearer{Source: mgrB},
		twitter.WithEndpoints(api.URL+"/1.1/media/upload.json", api.URL+"/2/tweets"))
	tweet, err := tw.CreateReply(t.Context(), "thanks for the mention", "12345", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", tweet.ID)
	_, replies := p.stats()
	assert.Equal(t, []string{"thanks for the mention"}, replies)
}
