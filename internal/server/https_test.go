package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		domain string
		errMsg string
	}{
		{"example.com", ""},
		{"sub.example.com", ""},
		{"my-bot.example.com", ""},

		{"", "domain required"},
		{"localhost", "public domain"},
		{"LOCALHOST", "public domain"},
		{"127.0.0.1", "not an IP"},
		{"::1", "not an IP"},
		{"[2001:db8::1]", "not an IP"},
		{"example..com", "invalid domain"},
		{".example.com", "invalid domain"},
		{"example.com.", "invalid domain"},
		{"-example.com", "invalid domain"},
		{"example.com:443", "invalid domain"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRedirectToHTTPS(t *testing.T) {
	rec := httptest.NewRecorder()
	redirectToHTTPS("bot.example.com").ServeHTTP(rec, httptest.NewRequest("GET", "/webhook?crc_token=x", nil))

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://bot.example.com/webhook?crc_token=x", rec.Header().Get("Location"))
}

func TestCertManagerHostPolicy(t *testing.T) {
	mgr := newCertManager(HTTPSConfig{Domain: "bot.example.com", CertDir: t.TempDir()})

	assert.NoError(t, mgr.HostPolicy(t.Context(), "bot.example.com"))
	assert.Error(t, mgr.HostPolicy(t.Context(), "other.example.com"))
}

func TestListenAndServeTLSRejectsBadDomain(t *testing.T) {
	srv := New(Options{})
	assert.Error(t, srv.ListenAndServeTLS(HTTPSConfig{Domain: "localhost"}))
}
