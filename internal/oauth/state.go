package oauth

import (
	"context"
	"errors"
	"time"
)

// ErrStateNotFound is returned when a flow state is missing, expired or
// already consumed.
var ErrStateNotFound = errors.New("oauth state not found or expired")

// StateTTL is how long an authorization attempt stays valid.
const StateTTL = 10 * time.Minute

// FlowState is the persisted record of one authorization attempt, keyed by
// the state parameter sent to the provider.
type FlowState struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the state can no longer be redeemed.
func (s *FlowState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// FlowStore persists flow states between Begin and Complete.
//
// Take must remove the state in the same operation that reads it so that a
// state is redeemed at most once. It returns ErrStateNotFound when the state
// is missing or expired.
type FlowStore interface {
	Save(ctx context.Context, state *FlowState) error
	Take(ctx context.Context, id string) (*FlowState, error)
}
