package db

import "fmt"

// tokenSchema keeps one row per (client, token name). Both rows of a client
// always carry the same version.
const tokenSchema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
    client_id   TEXT NOT NULL,
    name        TEXT NOT NULL CHECK (name IN ('access_token', 'refresh_token')),
    value       TEXT NOT NULL,
    version     INTEGER NOT NULL,
    token_type  TEXT NOT NULL DEFAULT '',
    scope       TEXT NOT NULL DEFAULT '',
    issued_at   TEXT NOT NULL,
    expires_at  TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (client_id, name)
);
`

const flowStateSchema = `
CREATE TABLE IF NOT EXISTS oauth_flow_state (
    id             TEXT PRIMARY KEY,
    client_id      TEXT NOT NULL,
    code_verifier  TEXT NOT NULL,
    redirect_uri   TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    expires_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_oauth_flow_state_expires_at ON oauth_flow_state(expires_at);
`

// RunMigrations creates the token and flow state tables. It is idempotent.
func (db *DB) RunMigrations() error {
	if _, err := db.Exec(tokenSchema); err != nil {
		return fmt.Errorf("failed to run token migrations: %w", err)
	}
	if _, err := db.Exec(flowStateSchema); err != nil {
		return fmt.Errorf("failed to run flow state migrations: %w", err)
	}
	return nil
}
