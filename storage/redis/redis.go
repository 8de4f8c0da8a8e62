// Package redis provides a Redis implementation of access.AccessCodeStore.
// Codes are stored as JSON with a TTL matching their expiry, so Redis evicts
// them on its own. Inserts use a Lua script to keep the code key and the
// per-user pointer consistent. Both keys carry the {codes} hash tag so the
// script stays within one slot on Redis Cluster.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// Storage implements access.AccessCodeStore using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goaccess:")
	KeyPrefix string

	// MinTTL is the floor applied to codes that are about to expire (default: 1s)
	MinTTL time.Duration

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "goaccess:",
		MinTTL:    time.Second,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "goaccess:"
	}
	if config.MinTTL <= 0 {
		config.MinTTL = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Insert a code only if it does not exist yet, then point the user at it
	s.scripts["insert"] = redis.NewScript(`
		local codeKey = KEYS[1]
		local userKey = KEYS[2]
		local data = ARGV[1]
		local code = ARGV[2]
		local ttl = tonumber(ARGV[3])

		if redis.call('EXISTS', codeKey) == 1 then
			return 0
		end

		redis.call('SET', codeKey, data, 'PX', ttl)
		redis.call('SET', userKey, code, 'PX', ttl)
		return 1
	`)
}

// Key generation helpers. Keys share the {codes} hash tag because the insert
// script touches a code key and a user key together.

const hashTag = "{codes}"

func (s *Storage) codeKey(code string) string {
	return fmt.Sprintf("%s%s:code:%s", s.config.KeyPrefix, hashTag, code)
}

func (s *Storage) userKey(userID string) string {
	return fmt.Sprintf("%s%s:user:%s:code", s.config.KeyPrefix, hashTag, userID)
}

func (s *Storage) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.config.Now())
	if ttl < s.config.MinTTL {
		return s.config.MinTTL
	}
	return ttl
}

// InsertAccessCode implements access.AccessCodeStore
func (s *Storage) InsertAccessCode(ctx context.Context, code *access.AccessCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid access code")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.config.Now().UTC()
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal access code: %w", err)
	}

	res, err := s.scripts["insert"].Run(ctx, s.client,
		[]string{s.codeKey(code.Code), s.userKey(code.UserID)},
		data, code.Code, s.ttl(code.ExpiresAt).Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to insert access code: %w", err)
	}
	if res == 0 {
		return access.ErrAccessCodeExists
	}
	return nil
}

// CacheAccessCode stores code unconditionally. Used by tiered storage to
// warm Redis from the durable store.
func (s *Storage) CacheAccessCode(ctx context.Context, code *access.AccessCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid access code")
	}
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal access code: %w", err)
	}

	ttl := s.ttl(code.ExpiresAt)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.codeKey(code.Code), data, ttl)
	if code.UsableAt(s.config.Now()) {
		pipe.Set(ctx, s.userKey(code.UserID), code.Code, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache access code: %w", err)
	}
	return nil
}

// GetAccessCode implements access.AccessCodeStore
func (s *Storage) GetAccessCode(ctx context.Context, code string) (*access.AccessCode, error) {
	data, err := s.client.Get(ctx, s.codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, access.ErrAccessCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access code: %w", err)
	}

	var c access.AccessCode
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access code: %w", err)
	}
	return &c, nil
}

// FindActiveAccessCode implements access.AccessCodeStore
func (s *Storage) FindActiveAccessCode(ctx context.Context, userID string, now time.Time) (*access.AccessCode, error) {
	code, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, access.ErrAccessCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access code: %w", err)
	}

	c, err := s.GetAccessCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID || !c.UsableAt(now) {
		return nil, access.ErrAccessCodeNotFound
	}
	return c, nil
}

// Ping checks Redis connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
