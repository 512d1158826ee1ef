// Package tokenstore persists OAuth token records keyed by a storage key of
// the form "<namespace>:<provider>[:<suffix>]".
//
// Three backends share one contract: FileStore (encrypted at rest, default),
// RedisStore and MemoryStore (ephemeral, for tests). Retrieve never returns an
// expired record; it deletes it instead.
package tokenstore

import (
	"context"
	"errors"
	"strings"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// DefaultNamespace prefixes storage keys when no namespace is configured
const DefaultNamespace = "mcp-oauth"

// Store defines the interface for token record storage
type Store interface {
	// Store writes the record, replacing any previous value for key
	Store(ctx context.Context, key string, token *oauth.Token) error

	// Retrieve returns the record for key, or nil when absent or expired.
	// Expired records are deleted as a side effect.
	Retrieve(ctx context.Context, key string) (*oauth.Token, error)

	// Remove deletes the record for key; a missing key is not an error
	Remove(ctx context.Context, key string) error

	// Clear removes every record managed by the store, best effort
	Clear(ctx context.Context) error
}

// Refresher is implemented by stores that run the refresh grant themselves
// and replace the stored record on success. Failures leave the record alone.
type Refresher interface {
	RefreshToken(ctx context.Context, key, refreshToken string, provider *oauth.Provider) (*oauth.Token, error)
}

// Peeker is implemented by stores that can read a record without expiry
// eviction, so an expired record that still holds a refresh token can be renewed.
type Peeker interface {
	Peek(ctx context.Context, key string) (*oauth.Token, error)
}

// Lister is implemented by stores that can enumerate their storage keys
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// StorageKey builds "<namespace>:<provider>[:<suffix>...]"
func StorageKey(namespace, provider string, suffix ...string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	parts := append([]string{namespace, provider}, suffix...)
	return strings.Join(parts, ":")
}

var errEmptyToken = errors.New("token record has no access token")

// checkToken rejects records that could never be read back
func checkToken(key string, token *oauth.Token) error {
	if token == nil || token.AccessToken == "" {
		return storeError(oauth.CodeTokenStoreFailed, key, "storing token", errEmptyToken)
	}
	return nil
}

func storeError(code oauth.ErrorCode, key, action string, err error) *oauth.Error {
	return oauth.NewError(code, "", "%s", action).WithCause(err).WithDetail("key", key)
}
