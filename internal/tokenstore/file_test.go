package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

func newTestFileStore(t *testing.T, opts ...FileOption) *FileStore {
	t.Helper()
	opts = append([]FileOption{
		WithDirectory(filepath.Join(t.TempDir(), "tokens")),
		WithCipher(testCipher(t, "test-home", "test-os", "test-arch")),
	}, opts...)
	s, err := NewFileStore(opts...)
	require.NoError(t, err)
	return s
}

func TestFileStore(t *testing.T) {
	testContract(t, func(t *testing.T) Store { return newTestFileStore(t) })
}

func TestFileStorePlaintext(t *testing.T) {
	testContract(t, func(t *testing.T) Store { return newTestFileStore(t, WithoutEncryption()) })
}

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	require.NoError(t, s.Store(ctx, "mcp-oauth:acme", &oauth.Token{AccessToken: "tok1", TokenType: "Bearer"}))

	path := filepath.Join(s.Dir(), "mcp-oauth_acme.token")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{24}:[0-9a-f]+$`), string(data))
	assert.NotContains(t, string(data), "tok1")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		dirInfo, err := os.Stat(s.Dir())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
	}
}

func TestFileStorePlaintextLayout(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t, WithoutEncryption())
	require.NoError(t, s.Store(ctx, "mcp-oauth:acme", &oauth.Token{AccessToken: "tok1", TokenType: "Bearer"}))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "mcp-oauth_acme.token"))
	require.NoError(t, err)
	var rec record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "mcp-oauth:acme", rec.Key)
	assert.Equal(t, "tok1", rec.Token.AccessToken)
}

func TestFileStoreDifferentMachineKey(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "tokens")

	writer, err := NewFileStore(WithDirectory(dir), WithCipher(testCipher(t, "host-a")))
	require.NoError(t, err)
	require.NoError(t, writer.Store(ctx, "mcp-oauth:acme", &oauth.Token{AccessToken: "tok1", TokenType: "Bearer"}))

	reader, err := NewFileStore(WithDirectory(dir), WithCipher(testCipher(t, "host-b")))
	require.NoError(t, err)

	_, err = reader.Retrieve(ctx, "mcp-oauth:acme")
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrTokenRetrieveFailed))
	assert.True(t, errors.Is(err, oauth.ErrDecryptionFailed))
}

func TestFileStoreExpiryUsesClock(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	tok := &oauth.Token{AccessToken: "tok", TokenType: "Bearer", ExpiresAt: now.Add(time.Minute).UnixMilli()}
	require.NoError(t, s.Store(ctx, "ns:acme", tok))

	got, err := s.Retrieve(ctx, "ns:acme")
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(time.Minute)
	got, err = s.Retrieve(ctx, "ns:acme")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = os.Stat(filepath.Join(s.Dir(), "ns_acme.token"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreRefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("success replaces record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"new","expires_in":3600}`))
		}))
		defer srv.Close()

		s := newTestFileStore(t)
		require.NoError(t, s.Store(ctx, "ns:acme", &oauth.Token{AccessToken: "old", RefreshToken: "ref", TokenType: "Bearer"}))

		p := &oauth.Provider{Name: "acme", ClientID: "abc", TokenURL: srv.URL, Scopes: []string{"read"}}
		tok, err := s.RefreshToken(ctx, "ns:acme", "ref", p)
		require.NoError(t, err)
		assert.Equal(t, "new", tok.AccessToken)

		stored, err := s.Retrieve(ctx, "ns:acme")
		require.NoError(t, err)
		assert.Equal(t, "new", stored.AccessToken)
		assert.Equal(t, "ref", stored.RefreshToken)
	})

	t.Run("failure leaves record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer srv.Close()

		s := newTestFileStore(t)
		require.NoError(t, s.Store(ctx, "ns:acme", &oauth.Token{AccessToken: "old", RefreshToken: "ref", TokenType: "Bearer"}))

		p := &oauth.Provider{Name: "acme", ClientID: "abc", TokenURL: srv.URL, Scopes: []string{"read"}}
		_, err := s.RefreshToken(ctx, "ns:acme", "ref", p)
		assert.True(t, errors.Is(err, oauth.ErrTokenRefreshFailed))

		stored, err := s.Retrieve(ctx, "ns:acme")
		require.NoError(t, err)
		assert.Equal(t, "old", stored.AccessToken)
	})
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"mcp-oauth:acme:work", "mcp-oauth_acme_work"},
		{"a/b\\c", "a%2Fb%5Cc"},
		{"ok.name-1", "ok.name-1"},
		{"mcp-oauth:my provider", "mcp-oauth_my%20provider"},
		{"mcp-oauth:my_provider", "mcp-oauth_my%5Fprovider"},
		{"100%", "100%25"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeKey(tt.key), tt.key)
	}
}

func TestFileStoreKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	spaced := StorageKey("", "my provider")
	underscored := StorageKey("", "my_provider")
	require.NoError(t, s.Store(ctx, spaced, &oauth.Token{AccessToken: "tok-space", TokenType: "Bearer"}))

	got, err := s.Retrieve(ctx, underscored)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Store(ctx, underscored, &oauth.Token{AccessToken: "tok-underscore", TokenType: "Bearer"}))
	got, err = s.Retrieve(ctx, spaced)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-space", got.AccessToken)
}

func TestFileStorePeekChecksRecordKey(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	require.NoError(t, s.Store(ctx, "ns:acme", &oauth.Token{AccessToken: "acme-token", TokenType: "Bearer"}))
	require.NoError(t, os.Rename(s.path("ns:acme"), s.path("ns:globex")))

	got, err := s.Peek(ctx, "ns:globex")
	require.NoError(t, err)
	assert.Nil(t, got)
}
