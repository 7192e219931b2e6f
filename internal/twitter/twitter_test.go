package twitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markb/mentionbot/internal/authenticator"
	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth1"
)

func newSigner(t *testing.T) *oauth1.Signer {
	t.Helper()
	s, err := oauth1.NewSigner(oauth1.Credentials{
		ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tk", TokenSecret: "ts",
	},
		oauth1.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		oauth1.WithNonceSource(func() (string, error) { return "n0nce", nil }),
	)
	require.NoError(t, err)
	return s
}

func TestUploadMedia(t *testing.T) {
	signer := newSigner(t)
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "123,456", r.URL.Query().Get("additional_owners"))
		assert.Equal(t, "aGVsbG8=", r.FormValue("media_data"))

		want, err := signer.BuildAuthorizationHeader(http.MethodPost, srvURL+"/1.1/media/upload.json",
			map[string]string{"additional_owners": "123,456"})
		require.NoError(t, err)
		assert.Equal(t, want, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"media_id":710511363345354753,"media_id_string":"710511363345354753","size":11065,"expires_after_secs":86400}`))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(&authenticator.OAuth1{Signer: signer}, authenticator.StaticBearer("unused"),
		WithEndpoints(srv.URL+"/1.1/media/upload.json", srv.URL+"/2/tweets"))

	media, err := c.UploadMedia(context.Background(), "aGVsbG8=", []string{"123", "456"})
	require.NoError(t, err)
	assert.Equal(t, "710511363345354753", media.MediaIDString)
	assert.Equal(t, int64(86400), media.ExpiresAfterSecs)
}

func TestUploadMediaEmpty(t *testing.T) {
	c := NewClient(authenticator.StaticBearer("x"), authenticator.StaticBearer("x"))
	_, err := c.UploadMedia(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestCreateReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "here you go", body["text"])
		assert.Equal(t, map[string]any{"in_reply_to_tweet_id": "1460323737035677698"}, body["reply"])
		assert.Equal(t, map[string]any{"media_ids": []any{"42"}}, body["media"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"1445880548472328192","text":"here you go"}}`))
	}))
	defer srv.Close()

	c := NewClient(authenticator.StaticBearer("unused"), authenticator.StaticBearer("access-1"),
		WithEndpoints(srv.URL+"/upload", srv.URL+"/2/tweets"))

	tw, err := c.CreateReply(context.Background(), "here you go", "1460323737035677698", []string{"42"})
	require.NoError(t, err)
	assert.Equal(t, "1445880548472328192", tw.ID)
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusUnauthorized, func(t *testing.T, err error) { assert.ErrorIs(t, err, autherr.ErrAuthExpired) }},
		{http.StatusTooManyRequests, func(t *testing.T, err error) { assert.ErrorIs(t, err, autherr.ErrNetwork) }},
		{http.StatusServiceUnavailable, func(t *testing.T, err error) { assert.ErrorIs(t, err, autherr.ErrNetwork) }},
		{http.StatusForbidden, func(t *testing.T, err error) {
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		}},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"title":"error"}`))
			}))
			defer srv.Close()

			c := NewClient(authenticator.StaticBearer("x"), authenticator.StaticBearer("x"),
				WithEndpoints(srv.URL, srv.URL))
			_, err := c.CreateReply(context.Background(), "hi", "", nil)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
