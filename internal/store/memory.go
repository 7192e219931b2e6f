package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/tokens"
)

// MemoryStore keeps token pairs and flow states in process memory. It is
// meant for tests and single-process deployments.
type MemoryStore struct {
	mu     sync.Mutex
	pairs  map[string]tokens.Pair
	states map[string]oauth.FlowState
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs:  make(map[string]tokens.Pair),
		states: make(map[string]oauth.FlowState),
		now:    time.Now,
	}
}

// Get returns a copy of the pair stored for clientID.
func (m *MemoryStore) Get(ctx context.Context, clientID string) (*tokens.Pair, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pairs[clientID]
	if !ok {
		return nil, fmt.Errorf("token pair for %s: %w", clientID, autherr.ErrNotFound)
	}
	return &p, nil
}

// Put replaces the pair for clientID if the stored version equals prevVersion.
func (m *MemoryStore) Put(ctx context.Context, clientID string, pair *tokens.Pair, prevVersion int64) error {
	if err := validatePut(clientID, pair); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur int64
	if p, ok := m.pairs[clientID]; ok {
		cur = p.Version
	}
	if cur != prevVersion {
		return conflict(clientID, prevVersion, cur)
	}

	pair.Version = prevVersion + 1
	m.pairs[clientID] = *pair
	return nil
}

// Save stores a flow state until it is taken or expires.
func (m *MemoryStore) Save(ctx context.Context, state *oauth.FlowState) error {
	if state == nil || state.ID == "" {
		return ErrEmptyStateID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, s := range m.states {
		if s.Expired(now) {
			delete(m.states, id)
		}
	}
	m.states[state.ID] = *state
	return nil
}

// Take removes and returns the flow state with the given id.
func (m *MemoryStore) Take(ctx context.Context, id string) (*oauth.FlowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[id]
	if !ok {
		return nil, oauth.ErrStateNotFound
	}
	delete(m.states, id)
	if s.Expired(m.now()) {
		return nil, oauth.ErrStateNotFound
	}
	return &s, nil
}
