// Package store provides the token pair and flow state persistence backends:
// in-memory, SQLite, Redis and S3. Every backend replaces a client's access
// and refresh tokens together in one conditional write gated on the stored
// version.
package store

import (
	"errors"
	"fmt"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/tokens"
)

var (
	// ErrEmptyClientID is returned when the client ID string is empty.
	ErrEmptyClientID = errors.New("client ID cannot be empty")
	// ErrNilPair is returned when attempting to save a nil token pair.
	ErrNilPair = errors.New("token pair cannot be nil")
	// ErrIncompletePair is returned when a pair lacks either token.
	ErrIncompletePair = errors.New("token pair must carry both access and refresh tokens")
	// ErrEmptyStateID is returned when a flow state has no ID.
	ErrEmptyStateID = errors.New("flow state ID cannot be empty")
)

// Record names of the two tokens kept per client.
const (
	accessTokenName  = "access_token"
	refreshTokenName = "refresh_token"
)

func validatePut(clientID string, pair *tokens.Pair) error {
	switch {
	case clientID == "":
		return ErrEmptyClientID
	case pair == nil:
		return ErrNilPair
	case pair.AccessToken == "" || pair.RefreshToken == "":
		return ErrIncompletePair
	}
	return nil
}

func conflict(clientID string, want, got int64) error {
	return fmt.Errorf("%w: client %s expected version %d, found %d", autherr.ErrStoreConflict, clientID, want, got)
}
