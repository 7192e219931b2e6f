package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/oauth"
)

// handleAuthorize starts a PKCE attempt and redirects to the provider.
// GET /oauth/authorize
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.flow.Begin(r.Context())
	if err != nil {
		log.Error("authorization start failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to start authorization")
		return
	}
	w.Header().Del("Content-Type")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// callbackResponse describes the stored pair without revealing it.
type callbackResponse struct {
	Status       string `json:"status"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	Version      int64  `json:"version"`
}

// handleCallback completes the attempt named by state.
// GET /oauth/callback?code=...&state=...
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		s.metrics.RecordExchange(r.Context(), "denied")
		log.Warn("authorization denied by provider", "error", providerErr)
		writeError(w, http.StatusBadRequest, providerErr, q.Get("error_description"))
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code parameter is required")
		return
	}

	pair, err := s.flow.Complete(r.Context(), q.Get("state"), code)
	if err != nil {
		status, errCode := callbackStatus(err)
		s.metrics.RecordExchange(r.Context(), errCode)
		log.Warn("authorization callback failed", "status", status, "error", err)
		writeError(w, status, errCode, callbackMessage(errCode))
		return
	}

	s.metrics.RecordExchange(r.Context(), "authorized")
	masked := pair.Masked()
	resp := callbackResponse{
		Status:       "authorized",
		AccessToken:  masked.AccessToken,
		RefreshToken: masked.RefreshToken,
		TokenType:    pair.TokenType,
		Scope:        pair.Scope,
		Version:      pair.Version,
	}
	if !pair.ExpiresAt.IsZero() {
		resp.ExpiresAt = pair.ExpiresAt.UTC().Format(time.RFC3339)
	}
	json.NewEncoder(w).Encode(resp)
}

func callbackStatus(err error) (int, string) {
	switch {
	case errors.Is(err, oauth.ErrStateNotFound):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, autherr.ErrAuthExchangeFailed), errors.Is(err, autherr.ErrNetwork):
		return http.StatusBadGateway, "exchange_failed"
	case errors.Is(err, autherr.ErrConfig):
		return http.StatusInternalServerError, "misconfigured"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func callbackMessage(code string) string {
	switch code {
	case "invalid_state":
		return "unknown, expired or already used state"
	case "exchange_failed":
		return "the authorization server rejected the code exchange"
	case "misconfigured":
		return "oauth client is not configured"
	default:
		return "failed to complete authorization"
	}
}
