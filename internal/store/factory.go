package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/tokens"
)

// Type represents the type of store backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeSQLite Type = "sqlite"
	TypeRedis  Type = "redis"
	TypeS3     Type = "s3"
)

// Config contains configuration for creating a store.
type Config struct {
	Type Type
	// SQLitePath is the database file used by TypeSQLite.
	SQLitePath string
	Redis      RedisOptions
	S3         S3Options
}

// Backend bundles the token and flow state stores of one backend.
type Backend struct {
	Tokens tokens.Store
	Flows  oauth.FlowStore
	Close  func() error
}

// ParseType parses a string into a Type. It returns an error for unknown
// names so that typos in configuration do not silently select memory.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return TypeMemory, nil
	}
	if !t.IsValid() {
		return "", fmt.Errorf("unsupported store type: %q", s)
	}
	return t, nil
}

// String returns the string representation of a Type.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the Type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeMemory, TypeSQLite, TypeRedis, TypeS3:
		return true
	default:
		return false
	}
}

// New creates the backend selected by cfg.Type.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	switch cfg.Type {
	case TypeMemory, "":
		s := NewMemoryStore()
		return &Backend{Tokens: s, Flows: s, Close: func() error { return nil }}, nil
	case TypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires a database path")
		}
		s, err := OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Tokens: s, Flows: s, Close: s.Close}, nil
	case TypeRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis store requires an address")
		}
		s, err := NewRedisStoreFromOptions(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Backend{Tokens: s, Flows: s, Close: s.Close}, nil
	case TypeS3:
		s, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return &Backend{Tokens: s, Flows: s, Close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
