// Package authenticator attaches credentials to outbound API requests. The
// legacy media endpoint takes OAuth 1.0a signatures; the v2 endpoints take an
// OAuth 2.0 bearer token.
package authenticator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth1"
	"github.com/markb/mentionbot/internal/tokens"
)

// Authenticator sets the Authorization header of req.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// OAuth1 signs requests with HMAC-SHA1. Query parameters and
// application/x-www-form-urlencoded body parameters are signed; multipart
// bodies are not.
type OAuth1 struct {
	Signer *oauth1.Signer
}

func (a *OAuth1) Authenticate(ctx context.Context, req *http.Request) error {
	params, err := signableParams(req)
	if err != nil {
		return err
	}
	header, err := a.Signer.BuildAuthorizationHeader(req.Method, BaseURL(req.URL), params)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

// BaseURL returns scheme://host/path with the scheme and host lowercased and
// default ports removed.
func BaseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func signableParams(req *http.Request) (map[string]string, error) {
	params := map[string]string{}
	for k, vs := range req.URL.Query() {
		if len(vs) > 1 {
			return nil, fmt.Errorf("%w: repeated query parameter %q", autherr.ErrSignature, k)
		}
		params[k] = vs[0]
	}

	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if ct != "application/x-www-form-urlencoded" || req.Body == nil {
		return params, nil
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read form body: %w", err)
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse form body: %v", autherr.ErrSignature, err)
	}
	for k, vs := range form {
		if _, dup := params[k]; dup || len(vs) > 1 {
			return nil, fmt.Errorf("%w: repeated parameter %q", autherr.ErrSignature, k)
		}
		params[k] = vs[0]
	}
	return params, nil
}

// TokenSource yields the current OAuth 2.0 pair, refreshing it as needed.
// *tokens.Manager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (*tokens.Pair, error)
}

// Bearer sets "Authorization: Bearer <access token>".
type Bearer struct {
	Source TokenSource
}

func (a *Bearer) Authenticate(ctx context.Context, req *http.Request) error {
	pair, err := a.Source.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	return nil
}

// StaticBearer authenticates with a fixed token.
type StaticBearer string

func (a StaticBearer) Authenticate(ctx context.Context, req *http.Request) error {
	if a == "" {
		return fmt.Errorf("%w: bearer token is empty", autherr.ErrConfig)
	}
	req.Header.Set("Authorization", "Bearer "+string(a))
	return nil
}

// Transport authenticates every request before handing it to Base.
type Transport struct {
	Auth Authenticator
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.Body != nil {
		r.Body = req.Body
	}
	if err := t.Auth.Authenticate(req.Context(), r); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Client returns an *http.Client that authenticates with auth.
func Client(auth Authenticator, base *http.Client) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.Transport = &Transport{Auth: auth, Base: c.Transport}
	return c
}
