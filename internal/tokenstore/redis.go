package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

const (
	defaultRedisPrefix = "mcp-oauth:token:"
	scanCount          = 100
)

// RedisStore implements Store on Redis. Records without a refresh token get
// a Redis TTL matching their expiry; refreshable records are kept until removed.
type RedisStore struct {
	client *redis.Client
	cipher Cipher
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRedisCipher encrypts payloads before they reach Redis
func WithRedisCipher(c Cipher) RedisOption {
	return func(s *RedisStore) {
		s.cipher = c
	}
}

// WithKeyPrefix sets the Redis key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Store saves the record, setting a TTL when it can never be refreshed
func (s *RedisStore) Store(ctx context.Context, key string, token *oauth.Token) error {
	if err := checkToken(key, token); err != nil {
		return err
	}
	data, err := encode(s.cipher, key, token)
	if err != nil {
		return storeError(oauth.CodeTokenStoreFailed, key, "encoding token record", err)
	}

	var ttl time.Duration
	if token.ExpiresAt != 0 && token.RefreshToken == "" {
		ttl = time.Until(token.Expiry())
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}

	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return storeError(oauth.CodeTokenStoreFailed, key, "saving token", err)
	}
	return nil
}

// Retrieve returns the record or nil; expired records are deleted
func (s *RedisStore) Retrieve(ctx context.Context, key string) (*oauth.Token, error) {
	tok, err := s.Peek(ctx, key)
	if err != nil || tok == nil {
		return nil, err
	}
	if tok.Expired(s.now()) {
		if err := s.Remove(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return tok, nil
}

// Peek returns the record without expiry eviction
func (s *RedisStore) Peek(ctx context.Context, key string) (*oauth.Token, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeError(oauth.CodeTokenRetrieveFailed, key, "getting token", err)
	}

	rec, err := decode(s.cipher, data)
	if err != nil {
		return nil, storeError(oauth.CodeTokenRetrieveFailed, key, "decoding token", err)
	}
	return rec.Token, nil
}

// Remove deletes the record; deleting a missing key is not an error
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return storeError(oauth.CodeTokenRemoveFailed, key, "deleting token", err)
	}
	return nil
}

// Clear deletes every key under the prefix; individual failures are skipped
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return storeError(oauth.CodeTokenClearFailed, "", "scanning tokens", err)
	}
	for _, k := range keys {
		_ = s.client.Del(ctx, k).Err()
	}
	return nil
}

// Keys lists storage keys under the prefix
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, storeError(oauth.CodeTokenListFailed, "", "scanning tokens", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out, nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
