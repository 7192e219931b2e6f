// Package tokens holds the OAuth2 token pair model, the persistence
// contract for it, and the Manager that funnels refreshes through a single
// in-process flight and an optimistic conditional write.
package tokens

import (
	"context"
	"time"

	"github.com/markb/mentionbot/internal/log"
)

// Pair is the access/refresh token pair current for one client identity.
// Access and refresh tokens are always written together.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	// Version is assigned by the Store on each successful Put.
	Version int64 `json:"version"`
}

// Expired reports whether the access token expires within skew of now. A
// pair without an expiry never reports expired.
func (p *Pair) Expired(now time.Time, skew time.Duration) bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(p.ExpiresAt)
}

// Masked returns a copy of p with both tokens reduced to a short prefix,
// suitable for logs and CLI output.
func (p Pair) Masked() Pair {
	p.AccessToken = log.Mask(p.AccessToken)
	p.RefreshToken = log.Mask(p.RefreshToken)
	return p
}

// Store persists exactly one Pair per client identity.
//
// Get returns autherr.ErrNotFound when nothing is stored. Put replaces the
// stored pair only when its version still equals prevVersion (0 meaning no
// pair is stored yet) and fails with autherr.ErrStoreConflict otherwise. On
// success the stored pair, and pair itself, carry Version = prevVersion+1.
type Store interface {
	Get(ctx context.Context, clientID string) (*Pair, error)
	Put(ctx context.Context, clientID string, pair *Pair, prevVersion int64) error
}

// Refresher exchanges a refresh token for a new pair at the provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Pair, error)
}
