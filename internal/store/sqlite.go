package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/db"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/tokens"
)

// SQLiteStore keeps token pairs in oauth_tokens (one row per token) and flow
// states in oauth_flow_state.
type SQLiteStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database, now: time.Now}
}

// OpenSQLiteStore opens the database at path and runs migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	database, err := db.New(path)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(); err != nil {
		database.Close()
		return nil, err
	}
	return NewSQLiteStore(database), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get assembles the pair from its two rows.
func (s *SQLiteStore) Get(ctx context.Context, clientID string) (*tokens.Pair, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, version, token_type, scope, issued_at, expires_at
		FROM oauth_tokens
		WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var (
		pair     tokens.Pair
		found    int
		versions = map[string]int64{}
	)
	for rows.Next() {
		var name, value, tokenType, scope, issuedAt, expiresAt string
		var version int64
		if err := rows.Scan(&name, &value, &version, &tokenType, &scope, &issuedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		switch name {
		case accessTokenName:
			pair.AccessToken = value
		case refreshTokenName:
			pair.RefreshToken = value
		default:
			continue
		}
		found++
		versions[name] = version
		pair.Version = version
		pair.TokenType = tokenType
		pair.Scope = scope
		if pair.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, fmt.Errorf("parse issued_at: %w", err)
		}
		if pair.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}

	if found == 0 {
		return nil, fmt.Errorf("token pair for %s: %w", clientID, autherr.ErrNotFound)
	}
	if found != 2 || versions[accessTokenName] != versions[refreshTokenName] {
		return nil, fmt.Errorf("token rows for %s are inconsistent", clientID)
	}
	return &pair, nil
}

// Put writes both rows in one transaction. The first write inserts them;
// later writes update them only where version still equals prevVersion.
func (s *SQLiteStore) Put(ctx context.Context, clientID string, pair *tokens.Pair, prevVersion int64) error {
	if err := validatePut(clientID, pair); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	next := prevVersion + 1
	now := formatTime(s.now())
	issued := formatTime(pair.IssuedAt)
	expires := formatTime(pair.ExpiresAt)
	values := map[string]string{
		accessTokenName:  pair.AccessToken,
		refreshTokenName: pair.RefreshToken,
	}

	if prevVersion == 0 {
		// The insert is the first statement, so the transaction takes the
		// write lock before reading and concurrent first writes queue on
		// busy_timeout instead of failing on a stale snapshot.
		for _, name := range []string{accessTokenName, refreshTokenName} {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO oauth_tokens (client_id, name, value, version, token_type, scope, issued_at, expires_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (client_id, name) DO NOTHING`,
				clientID, name, values[name], next, pair.TokenType, pair.Scope, issued, expires, now)
			if err != nil {
				return fmt.Errorf("insert %s: %w", name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert %s: %w", name, err)
			}
			if n != 1 {
				return conflict(clientID, prevVersion, s.currentVersion(ctx, tx, clientID))
			}
		}
	} else {
		for _, name := range []string{accessTokenName, refreshTokenName} {
			res, err := tx.ExecContext(ctx, `
				UPDATE oauth_tokens
				SET value = ?, version = ?, token_type = ?, scope = ?, issued_at = ?, expires_at = ?, updated_at = ?
				WHERE client_id = ? AND name = ? AND version = ?`,
				values[name], next, pair.TokenType, pair.Scope, issued, expires, now,
				clientID, name, prevVersion)
			if err != nil {
				return fmt.Errorf("update %s: %w", name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update %s: %w", name, err)
			}
			if n != 1 {
				return conflict(clientID, prevVersion, s.currentVersion(ctx, tx, clientID))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tokens: %w", err)
	}
	pair.Version = next
	return nil
}

// currentVersion reports the stored version for conflict messages.
func (s *SQLiteStore) currentVersion(ctx context.Context, tx *sql.Tx, clientID string) int64 {
	var cur int64
	_ = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM oauth_tokens WHERE client_id = ?", clientID).Scan(&cur)
	return cur
}

// Save stores a flow state.
func (s *SQLiteStore) Save(ctx context.Context, state *oauth.FlowState) error {
	if state == nil || state.ID == "" {
		return ErrEmptyStateID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_flow_state (id, client_id, code_verifier, redirect_uri, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.ID, state.ClientID, state.CodeVerifier, state.RedirectURI,
		formatTime(state.CreatedAt), formatTime(state.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert flow state: %w", err)
	}
	return nil
}

// Take deletes the flow state and returns what was deleted.
func (s *SQLiteStore) Take(ctx context.Context, id string) (*oauth.FlowState, error) {
	state := oauth.FlowState{ID: id}
	var createdAt, expiresAt string

	err := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_flow_state
		WHERE id = ?
		RETURNING client_id, code_verifier, redirect_uri, created_at, expires_at`,
		id).Scan(&state.ClientID, &state.CodeVerifier, &state.RedirectURI, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take flow state: %w", err)
	}

	if state.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if state.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if state.Expired(s.now()) {
		return nil, oauth.ErrStateNotFound
	}
	return &state, nil
}

// CleanupExpired removes flow states that can no longer be redeemed.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM oauth_flow_state WHERE expires_at <= ?",
		formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("cleanup flow states: %w", err)
	}
	return res.RowsAffected()
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
