package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	s := setupSQLiteStore(t)
	runContract(t, harness{
		tokens:   s,
		flows:    s,
		setClock: func(now func() time.Time) { s.now = now },
	})
}

func TestSQLiteStoreWritesBothRows(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", newPair(1), 0))
	require.NoError(t, s.Put(ctx, "c1", newPair(2), 1))

	rows, err := s.db.Query("SELECT name, value, version FROM oauth_tokens WHERE client_id = ? ORDER BY name", "c1")
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var name, value string
		var version int64
		require.NoError(t, rows.Scan(&name, &value, &version))
		assert.Equal(t, int64(2), version)
		got = append(got, name+"="+value)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"access_token=access-2", "refresh_token=refresh-2"}, got)
}

func TestSQLiteStoreCleanupExpired(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, ttl := range []time.Duration{-time.Minute, oauth.StateTTL} {
		require.NoError(t, s.Save(ctx, &oauth.FlowState{
			ID:           []string{"old", "fresh"}[i],
			ClientID:     "c",
			CodeVerifier: "v",
			RedirectURI:  "http://localhost/cb",
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
		}))
	}

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Take(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSQLiteStoreConcurrentFirstWriteAcrossHandles(t *testing.T) {
	path := t.TempDir() + "/shared.db"
	const handles = 6

	stores := make([]*SQLiteStore, handles)
	for i := range stores {
		s, err := OpenSQLiteStore(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores[i] = s
	}

	for round := 0; round < 10; round++ {
		client := fmt.Sprintf("client-%d", round)
		errs := make([]error, handles)
		var wg sync.WaitGroup
		for i, s := range stores {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.Put(context.Background(), client, newPair(i), 0)
			}()
		}
		wg.Wait()

		winner := -1
		for i, err := range errs {
			if err == nil {
				require.Equal(t, -1, winner, "round %d: more than one first write succeeded", round)
				winner = i
				continue
			}
			assert.ErrorIs(t, err, autherr.ErrStoreConflict, "round %d handle %d", round, i)
		}
		require.NotEqual(t, -1, winner, "round %d: no first write succeeded", round)

		got, err := stores[0].Get(context.Background(), client)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("refresh-%d", winner), got.RefreshToken)
		assert.Equal(t, int64(1), got.Version)
	}
}
