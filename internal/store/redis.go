package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/tokens"
)

const defaultRedisPrefix = "mentionbot:"

// putPairScript replaces every field of the token hash when its version
// field equals ARGV[1] ("0" meaning the hash must not exist yet). It returns
// 1 on success and the current version as a negative number on conflict.
var putPairScript = rueidis.NewLuaScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur == false then cur = '0' end
if cur ~= ARGV[1] then
  return -tonumber(cur) - 1
end
redis.call('HSET', KEYS[1],
  'version', ARGV[2],
  'access_token', ARGV[3],
  'refresh_token', ARGV[4],
  'token_type', ARGV[5],
  'scope', ARGV[6],
  'issued_at', ARGV[7],
  'expires_at', ARGV[8],
  'updated_at', ARGV[9])
return 1
`)

// RedisOptions contains configuration for the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each client's pair in one hash and each flow state in a
// string key with a TTL.
type RedisStore struct {
	client rueidis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing rueidis client.
func NewRedisStore(client rueidis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisStoreFromOptions connects to Redis.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{opts.Addr},
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client, opts.Prefix), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisStore) tokenKey(clientID string) string {
	return r.prefix + "tokens:" + clientID
}

func (r *RedisStore) flowKey(id string) string {
	return r.prefix + "flow:" + id
}

// Get reads the token hash for clientID.
func (r *RedisStore) Get(ctx context.Context, clientID string) (*tokens.Pair, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	cmd := r.client.B().Hgetall().Key(r.tokenKey(clientID)).Build()
	fields, err := r.client.Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get token pair from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("token pair for %s: %w", clientID, autherr.ErrNotFound)
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}
	pair := &tokens.Pair{
		AccessToken:  fields[accessTokenName],
		RefreshToken: fields[refreshTokenName],
		TokenType:    fields["token_type"],
		Scope:        fields["scope"],
		Version:      version,
	}
	if pair.IssuedAt, err = parseTime(fields["issued_at"]); err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	if pair.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return pair, nil
}

// Put runs the compare-and-set script against the token hash.
func (r *RedisStore) Put(ctx context.Context, clientID string, pair *tokens.Pair, prevVersion int64) error {
	if err := validatePut(clientID, pair); err != nil {
		return err
	}

	next := prevVersion + 1
	res, err := putPairScript.Exec(ctx, r.client,
		[]string{r.tokenKey(clientID)},
		[]string{
			strconv.FormatInt(prevVersion, 10),
			strconv.FormatInt(next, 10),
			pair.AccessToken,
			pair.RefreshToken,
			pair.TokenType,
			pair.Scope,
			formatTime(pair.IssuedAt),
			formatTime(pair.ExpiresAt),
			formatTime(r.now()),
		}).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to put token pair to redis: %w", err)
	}
	if res != 1 {
		return conflict(clientID, prevVersion, -res-1)
	}

	pair.Version = next
	return nil
}

// Save stores a flow state with a TTL matching its expiry.
func (r *RedisStore) Save(ctx context.Context, state *oauth.FlowState) error {
	if state == nil || state.ID == "" {
		return ErrEmptyStateID
	}

	ttl := state.ExpiresAt.Sub(r.now())
	if ttl < time.Second {
		return fmt.Errorf("flow state %s is already expired", state.ID)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal flow state: %w", err)
	}

	cmd := r.client.B().Set().Key(r.flowKey(state.ID)).Value(string(data)).ExSeconds(int64(ttl.Seconds())).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save flow state to redis: %w", err)
	}
	return nil
}

// Take reads and deletes the flow state with GETDEL.
func (r *RedisStore) Take(ctx context.Context, id string) (*oauth.FlowState, error) {
	cmd := r.client.B().Getdel().Key(r.flowKey(id)).Build()
	raw, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, oauth.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to take flow state from redis: %w", err)
	}

	var state oauth.FlowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow state: %w", err)
	}
	if state.Expired(r.now()) {
		return nil, oauth.ErrStateNotFound
	}
	return &state, nil
}
