package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

const (
	// DefaultDirName is created under the user's home directory
	DefaultDirName = ".mcp-oauth"

	fileExtension = ".token"
	lockFileName  = ".lock"
	lockTimeout   = 5 * time.Second
	lockRetry     = 50 * time.Millisecond
	dirMode       = 0o700
	fileMode      = 0o600
)


// FileStore keeps one file per storage key, encrypted with a Cipher unless
// encryption is disabled. Writes are serialized across processes with a lock file.
type FileStore struct {
	dir     string
	cipher  Cipher
	encrypt bool
	tokens  *oauth.TokenClient
	logger  *zap.Logger
	now     func() time.Time
}

// FileOption configures a FileStore
type FileOption func(*FileStore)

// WithDirectory sets the storage directory
func WithDirectory(dir string) FileOption {
	return func(s *FileStore) {
		s.dir = dir
	}
}

// WithCipher replaces the machine-derived cipher
func WithCipher(c Cipher) FileOption {
	return func(s *FileStore) {
		s.cipher = c
		s.encrypt = true
	}
}

// WithoutEncryption stores raw JSON
func WithoutEncryption() FileOption {
	return func(s *FileStore) {
		s.cipher = nil
		s.encrypt = false
	}
}

// WithTokenClient sets the client used by RefreshToken
func WithTokenClient(c *oauth.TokenClient) FileOption {
	return func(s *FileStore) {
		s.tokens = c
	}
}

// WithFileLogger sets the logger
func WithFileLogger(l *zap.Logger) FileOption {
	return func(s *FileStore) {
		s.logger = l
	}
}

// NewFileStore creates the storage directory with owner-only permissions
func NewFileStore(opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		encrypt: true,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		s.dir = filepath.Join(home, DefaultDirName)
	}
	if s.encrypt && s.cipher == nil {
		c, err := NewMachineCipher()
		if err != nil {
			return nil, fmt.Errorf("creating machine cipher: %w", err)
		}
		s.cipher = c
	}
	if s.tokens == nil {
		s.tokens = oauth.NewTokenClient(nil)
	}

	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return nil, fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.Chmod(s.dir, dirMode); err != nil {
		return nil, fmt.Errorf("restricting token directory: %w", err)
	}
	return s, nil
}

// Dir returns the storage directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Store writes the record atomically through a temp file and rename
func (s *FileStore) Store(ctx context.Context, key string, token *oauth.Token) error {
	if err := checkToken(key, token); err != nil {
		return err
	}
	data, err := encode(s.cipher, key, token)
	if err != nil {
		return storeError(oauth.CodeTokenStoreFailed, key, "encoding token record", err)
	}

	err = s.withLock(ctx, func() error {
		return writeFileAtomic(s.path(key), data)
	})
	if err != nil {
		return storeError(oauth.CodeTokenStoreFailed, key, "writing token file", err)
	}

	s.logger.Debug("token stored",
		zap.String("key", key),
		zap.String("access_token", oauth.MaskToken(token.AccessToken)),
		zap.Bool("has_refresh_token", token.RefreshToken != ""),
	)
	return nil
}

// Retrieve returns the record or nil; expired records are deleted
func (s *FileStore) Retrieve(ctx context.Context, key string) (*oauth.Token, error) {
	tok, err := s.Peek(ctx, key)
	if err != nil || tok == nil {
		return nil, err
	}
	if tok.Expired(s.now()) {
		if err := s.Remove(ctx, key); err != nil {
			s.logger.Warn("removing expired token", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}
	return tok, nil
}

// Peek returns the record without expiry eviction
func (s *FileStore) Peek(_ context.Context, key string) (*oauth.Token, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storeError(oauth.CodeTokenRetrieveFailed, key, "reading token file", err)
	}

	rec, err := decode(s.cipher, data)
	if err != nil {
		return nil, storeError(oauth.CodeTokenRetrieveFailed, key, "decoding token file", err)
	}
	if rec.Key != key {
		s.logger.Warn("token file belongs to another key", zap.String("key", key), zap.String("stored_key", rec.Key))
		return nil, nil
	}
	return rec.Token, nil
}

// Remove deletes the file for key
func (s *FileStore) Remove(ctx context.Context, key string) error {
	err := s.withLock(ctx, func() error {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	if err != nil {
		return storeError(oauth.CodeTokenRemoveFailed, key, "removing token file", err)
	}
	return nil
}

// Clear removes every token file; per-file failures are logged and skipped
func (s *FileStore) Clear(ctx context.Context) error {
	err := s.withLock(ctx, func() error {
		names, err := s.tokenFiles()
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("removing token file", zap.String("file", name), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return storeError(oauth.CodeTokenClearFailed, "", "clearing token directory", err)
	}
	return nil
}

// Keys lists the storage keys of all readable records
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	names, err := s.tokenFiles()
	if err != nil {
		return nil, storeError(oauth.CodeTokenListFailed, "", "listing token directory", err)
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		rec, err := decode(s.cipher, data)
		if err != nil {
			s.logger.Debug("skipping unreadable token file", zap.String("file", name), zap.Error(err))
			continue
		}
		keys = append(keys, rec.Key)
	}
	return keys, nil
}

// RefreshToken runs the refresh grant and replaces the stored record on success
func (s *FileStore) RefreshToken(ctx context.Context, key, refreshToken string, provider *oauth.Provider) (*oauth.Token, error) {
	tok, err := s.tokens.Refresh(ctx, provider, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.Store(ctx, key, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, SanitizeKey(key)+fileExtension)
}

func (s *FileStore) tokenFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileExtension) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	fileLock := flock.New(filepath.Join(s.dir, lockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquiring token store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquiring token store lock: timeout after %v", lockTimeout)
	}
	defer func() { _ = fileLock.Unlock() }()

	return fn()
}

// SanitizeKey maps a storage key to a safe file name. The key separator
// becomes "_"; every other byte outside [A-Za-z0-9.-], "_" included, is
// written as %XX so distinct keys never share a file.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('_')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
