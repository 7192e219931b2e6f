package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/tokens"
)

// TokenSaver persists the pair issued at the end of a flow.
type TokenSaver interface {
	Save(ctx context.Context, pair *tokens.Pair) error
}

// Flow drives one client's authorization attempts: Begin hands out an
// authorize URL backed by a fresh state and verifier, Complete redeems them.
type Flow struct {
	client *Client
	states FlowStore
	saver  TokenSaver
	ttl    time.Duration
	now    func() time.Time
}

// NewFlow returns a Flow that stores attempts in states and saves the issued
// pair through saver.
func NewFlow(client *Client, states FlowStore, saver TokenSaver) *Flow {
	return &Flow{
		client: client,
		states: states,
		saver:  saver,
		ttl:    StateTTL,
		now:    time.Now,
	}
}

// Begin starts an authorization attempt and returns the URL to send the user to.
func (f *Flow) Begin(ctx context.Context) (string, error) {
	ch := GenerateChallenge()
	now := f.now().UTC()
	st := &FlowState{
		ID:           GenerateState(),
		ClientID:     f.client.ClientID(),
		CodeVerifier: ch.Verifier,
		RedirectURI:  f.client.RedirectURL(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.ttl),
	}
	if err := f.states.Save(ctx, st); err != nil {
		return "", fmt.Errorf("save flow state: %w", err)
	}

	authURL, err := f.client.BuildAuthorizeURL(st.RedirectURI, nil, st.ID, ch.Challenge)
	if err != nil {
		return "", err
	}
	log.Debug("authorization started", "client_id", st.ClientID, "expires_at", st.ExpiresAt)
	return authURL, nil
}

// Complete redeems the state returned on the callback and exchanges code for
// the first token pair. A state can be completed at most once.
func (f *Flow) Complete(ctx context.Context, state, code string) (*tokens.Pair, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}
	st, err := f.states.Take(ctx, state)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load flow state: %w", err)
	}
	if st.Expired(f.now()) || st.ClientID != f.client.ClientID() {
		return nil, ErrStateNotFound
	}

	pair, err := f.client.ExchangeCode(ctx, code, st.CodeVerifier, st.RedirectURI)
	if err != nil {
		return nil, err
	}
	if err := f.saver.Save(ctx, pair); err != nil {
		return nil, err
	}
	log.Info("authorization completed", "client_id", st.ClientID, "scope", pair.Scope)
	return pair, nil
}
