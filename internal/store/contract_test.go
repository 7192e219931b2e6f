package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/tokens"
)

// harness exposes one backend to the shared contract tests.
type harness struct {
	tokens   tokens.Store
	flows    oauth.FlowStore
	setClock func(func() time.Time)
}

var issued = time.Date(2024, 5, 1, 12, 30, 45, 123456789, time.UTC)

func newPair(n int) *tokens.Pair {
	return &tokens.Pair{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(2 * time.Hour),
		TokenType:    "bearer",
		Scope:        "tweet.read offline.access",
	}
}

func runContract(t *testing.T, h harness) {
	t.Run("TokenLifecycle", func(t *testing.T) { testTokenLifecycle(t, h) })
	t.Run("TokenValidation", func(t *testing.T) { testTokenValidation(t, h) })
	t.Run("ConcurrentPut", func(t *testing.T) { testConcurrentPut(t, h) })
	t.Run("FlowState", func(t *testing.T) { testFlowState(t, h) })
	t.Run("FlowStateExpiry", func(t *testing.T) { testFlowStateExpiry(t, h) })
}

func testTokenLifecycle(t *testing.T, h harness) {
	ctx := context.Background()
	const client = "client-lifecycle"

	_, err := h.tokens.Get(ctx, client)
	assert.ErrorIs(t, err, autherr.ErrNotFound)

	first := newPair(1)
	require.NoError(t, h.tokens.Put(ctx, client, first, 0))
	assert.Equal(t, int64(1), first.Version)

	got, err := h.tokens.Get(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "bearer", got.TokenType)
	assert.Equal(t, "tweet.read offline.access", got.Scope)
	assert.True(t, issued.Equal(got.IssuedAt), "issued_at %v", got.IssuedAt)
	assert.True(t, first.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v", got.ExpiresAt)

	err = h.tokens.Put(ctx, client, newPair(99), 0)
	assert.ErrorIs(t, err, autherr.ErrStoreConflict)

	second := newPair(2)
	second.ExpiresAt = time.Time{}
	require.NoError(t, h.tokens.Put(ctx, client, second, 1))
	assert.Equal(t, int64(2), second.Version)

	stale := newPair(3)
	err = h.tokens.Put(ctx, client, stale, 1)
	assert.ErrorIs(t, err, autherr.ErrStoreConflict)
	assert.Equal(t, int64(0), stale.Version)

	got, err = h.tokens.Get(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.ExpiresAt.IsZero())

	_, err = h.tokens.Get(ctx, "someone-else")
	assert.ErrorIs(t, err, autherr.ErrNotFound)
}

func testTokenValidation(t *testing.T, h harness) {
	ctx := context.Background()

	assert.ErrorIs(t, h.tokens.Put(ctx, "", newPair(1), 0), ErrEmptyClientID)
	assert.ErrorIs(t, h.tokens.Put(ctx, "c", nil, 0), ErrNilPair)
	assert.ErrorIs(t, h.tokens.Put(ctx, "c", &tokens.Pair{AccessToken: "a"}, 0), ErrIncompletePair)

	_, err := h.tokens.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyClientID)
}

func testConcurrentPut(t *testing.T, h harness) {
	ctx := context.Background()
	const client = "client-race"
	require.NoError(t, h.tokens.Put(ctx, client, newPair(0), 0))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []int
		conflicts int
	)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := h.tokens.Put(ctx, client, newPair(n), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, n)
			case errors.Is(err, autherr.ErrStoreConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, writers-1, conflicts)

	got, err := h.tokens.Get(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, fmt.Sprintf("access-%d", winners[0]), got.AccessToken)
	assert.Equal(t, fmt.Sprintf("refresh-%d", winners[0]), got.RefreshToken)
}

func testFlowState(t *testing.T, h harness) {
	ctx := context.Background()
	now := time.Now().UTC()
	state := &oauth.FlowState{
		ID:           "state-abc",
		ClientID:     "client-1",
		CodeVerifier: "verifier-xyz",
		RedirectURI:  "http://localhost:8080/oauth/callback",
		CreatedAt:    now,
		ExpiresAt:    now.Add(oauth.StateTTL),
	}
	require.NoError(t, h.flows.Save(ctx, state))

	got, err := h.flows.Take(ctx, "state-abc")
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "verifier-xyz", got.CodeVerifier)
	assert.Equal(t, "http://localhost:8080/oauth/callback", got.RedirectURI)
	assert.True(t, state.ExpiresAt.Equal(got.ExpiresAt))

	_, err = h.flows.Take(ctx, "state-abc")
	assert.ErrorIs(t, err, oauth.ErrStateNotFound)

	_, err = h.flows.Take(ctx, "never-saved")
	assert.ErrorIs(t, err, oauth.ErrStateNotFound)

	assert.ErrorIs(t, h.flows.Save(ctx, &oauth.FlowState{}), ErrEmptyStateID)
}

func testFlowStateExpiry(t *testing.T, h harness) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, h.flows.Save(ctx, flowStateFor("state-old", now)))

	h.setClock(func() time.Time { return now.Add(oauth.StateTTL + time.Minute) })
	defer h.setClock(time.Now)

	_, err := h.flows.Take(ctx, "state-old")
	assert.ErrorIs(t, err, oauth.ErrStateNotFound)
}

func flowStateFor(id string, now time.Time) *oauth.FlowState {
	return &oauth.FlowState{
		ID:           id,
		ClientID:     "client-1",
		CodeVerifier: "v",
		RedirectURI:  "http://localhost/cb",
		CreatedAt:    now,
		ExpiresAt:    now.Add(oauth.StateTTL),
	}
}
