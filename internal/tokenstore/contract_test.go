package tokenstore

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// testContract runs the behavior every Store backend must share
func testContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		want := &oauth.Token{
			AccessToken:  "tok1",
			RefreshToken: "ref1",
			ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
			TokenType:    "Bearer",
			Scopes:       []string{"read", "write"},
		}
		key := StorageKey("", "acme")
		require.NoError(t, s.Store(ctx, key, want))

		got, err := s.Retrieve(ctx, key)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Retrieve() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects empty records", func(t *testing.T) {
		s := newStore(t)
		err := s.Store(ctx, "ns:acme", nil)
		require.ErrorIs(t, err, oauth.ErrTokenStoreFailed)
		err = s.Store(ctx, "ns:acme", &oauth.Token{TokenType: "Bearer"})
		require.ErrorIs(t, err, oauth.ErrTokenStoreFailed)

		got, err := s.Retrieve(ctx, "ns:acme")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("store overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Store(ctx, "ns:acme", &oauth.Token{AccessToken: "old", RefreshToken: "r", TokenType: "Bearer"}))
		require.NoError(t, s.Store(ctx, "ns:acme", &oauth.Token{AccessToken: "new", TokenType: "Bearer"}))

		got, err := s.Retrieve(ctx, "ns:acme")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "new", got.AccessToken)
		assert.Empty(t, got.RefreshToken)
	})

	t.Run("absent key", func(t *testing.T) {
		got, err := newStore(t).Retrieve(ctx, "ns:missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("non expiring token", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Store(ctx, "ns:forever", &oauth.Token{AccessToken: "tok", TokenType: "Bearer"}))
		got, err := s.Retrieve(ctx, "ns:forever")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Zero(t, got.ExpiresAt)
	})

	t.Run("expired record is evicted", func(t *testing.T) {
		s := newStore(t)
		expired := &oauth.Token{AccessToken: "old", RefreshToken: "ref", TokenType: "Bearer", ExpiresAt: time.Now().Add(-time.Millisecond).UnixMilli()}
		require.NoError(t, s.Store(ctx, "ns:acme", expired))

		if p, ok := s.(Peeker); ok {
			peeked, err := p.Peek(ctx, "ns:acme")
			require.NoError(t, err)
			require.NotNil(t, peeked, "Peek must not evict")
			assert.Equal(t, "ref", peeked.RefreshToken)
		}

		got, err := s.Retrieve(ctx, "ns:acme")
		require.NoError(t, err)
		assert.Nil(t, got)

		if p, ok := s.(Peeker); ok {
			peeked, err := p.Peek(ctx, "ns:acme")
			require.NoError(t, err)
			assert.Nil(t, peeked, "Retrieve must delete the expired record")
		}
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Store(ctx, "ns:acme", &oauth.Token{AccessToken: "tok", TokenType: "Bearer"}))
		require.NoError(t, s.Remove(ctx, "ns:acme"))
		require.NoError(t, s.Remove(ctx, "ns:acme"))
		require.NoError(t, s.Remove(ctx, "ns:never"))

		got, err := s.Retrieve(ctx, "ns:acme")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("clear and keys", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"acme", "github"} {
			require.NoError(t, s.Store(ctx, StorageKey("ns", p), &oauth.Token{AccessToken: "tok-" + p, TokenType: "Bearer"}))
		}

		if l, ok := s.(Lister); ok {
			keys, err := l.Keys(ctx)
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"ns:acme", "ns:github"}, keys)
		}

		require.NoError(t, s.Clear(ctx))
		for _, p := range []string{"acme", "github"} {
			got, err := s.Retrieve(ctx, StorageKey("ns", p))
			require.NoError(t, err)
			assert.Nil(t, got)
		}
		require.NoError(t, s.Clear(ctx))
	})
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "mcp-oauth:acme", StorageKey("", "acme"))
	assert.Equal(t, "ns:acme", StorageKey("ns", "acme"))
	assert.Equal(t, "ns:acme:work", StorageKey("ns", "acme", "work"))
}

func TestMemoryStore(t *testing.T) {
	testContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tok := &oauth.Token{AccessToken: "tok", TokenType: "Bearer", Scopes: []string{"read"}}
	require.NoError(t, s.Store(ctx, "ns:acme", tok))

	tok.Scopes[0] = "mutated"
	got, err := s.Retrieve(ctx, "ns:acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, got.Scopes)
}
