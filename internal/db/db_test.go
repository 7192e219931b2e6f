package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB(t *testing.T) {
	path := t.TempDir() + "/test.db"
	database, err := New(path)
	require.NoError(t, err)
	defer database.Close()

	var journalMode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var timeout int
	require.NoError(t, database.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestNewDBBadPath(t *testing.T) {
	_, err := New(t.TempDir() + "/missing/dir/test.db")
	assert.Error(t, err)
}
