package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// MemoryStore keeps records in process memory without encryption
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth.Token
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]*oauth.Token),
		now:    time.Now,
	}
}

func (m *MemoryStore) Store(_ context.Context, key string, token *oauth.Token) error {
	if err := checkToken(key, token); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token.Clone()
	return nil
}

func (m *MemoryStore) Retrieve(_ context.Context, key string) (*oauth.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	if tok.Expired(m.now()) {
		delete(m.tokens, key)
		return nil, nil
	}
	return tok.Clone(), nil
}

func (m *MemoryStore) Peek(_ context.Context, key string) (*oauth.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	return tok.Clone(), nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.tokens)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.tokens))
	for k := range m.tokens {
		keys = append(keys, k)
	}
	return keys, nil
}
