// Package auth ties the provider registry, the PKCE flow engine and a token
// store together. Manager is what gated operations call before touching a
// protected resource.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/wrale/mcp-oauth/internal/oauth"
	"github.com/wrale/mcp-oauth/internal/pkceflow"
	"github.com/wrale/mcp-oauth/internal/registry"
	"github.com/wrale/mcp-oauth/internal/tokenstore"
)

const refreshTimeout = 30 * time.Second

// Manager is the authentication orchestrator
type Manager struct {
	cfg      Config
	registry *registry.Registry
	engine   *pkceflow.Engine
	store    tokenstore.Store
	tokens   *oauth.TokenClient
	users    *oauth.UserInfoClient
	logger   *zap.Logger
	now      func() time.Time

	refreshes singleflight.Group

	mu          sync.Mutex
	lastRefresh map[string]time.Time
}

// NewManager validates the configured providers and builds the flow engine
// and token store
func NewManager(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, err := registry.New(cfg.Providers...)
	if err != nil {
		return nil, err
	}

	tokens := oauth.NewTokenClient(cfg.HTTPClient)
	store := cfg.Store
	if store == nil {
		fs, err := tokenstore.NewFileStore(
			tokenstore.WithTokenClient(tokens),
			tokenstore.WithFileLogger(logger.Named("tokenstore")),
		)
		if err != nil {
			return nil, fmt.Errorf("creating token store: %w", err)
		}
		store = fs
	}

	if _, ok := store.(tokenstore.Peeker); !ok {
		logger.Warn("token store cannot read expired records; expired tokens will not be refreshed",
			zap.String("store", fmt.Sprintf("%T", store)))
	}

	engine, err := pkceflow.NewEngine(reg, cfg.flowOptions(logger.Named("pkceflow"))...)
	if err != nil {
		return nil, fmt.Errorf("creating flow engine: %w", err)
	}

	return &Manager{
		cfg:         cfg,
		registry:    reg,
		engine:      engine,
		store:       store,
		tokens:      tokens,
		users:       oauth.NewUserInfoClient(cfg.HTTPClient),
		logger:      logger,
		now:         time.Now,
		lastRefresh: make(map[string]time.Time),
	}, nil
}

// AddProvider registers or replaces a provider
func (m *Manager) AddProvider(p oauth.Provider) error {
	return m.registry.Add(p)
}

// RemoveProvider unregisters a provider; stored tokens are kept
func (m *Manager) RemoveProvider(name string) {
	m.registry.Remove(name)
}

// Providers returns registered provider names in registration order
func (m *Manager) Providers() []string {
	return m.registry.Names()
}

// Flows exposes in-flight authorization flows
func (m *Manager) Flows() []pkceflow.FlowInfo {
	return m.engine.Flows()
}

// Authenticate runs the authorization flow for provider and stores the result
func (m *Manager) Authenticate(ctx context.Context, provider string) (*oauth.Token, error) {
	if _, ok := m.registry.Get(provider); !ok {
		return nil, notFound(provider)
	}

	tok, err := m.engine.Authorize(ctx, provider)
	if err != nil {
		m.logger.Warn("authentication failed", zap.String("provider", provider), zap.Error(err))
		return nil, oauth.NewError(oauth.CodeAuthenticationFailed, provider, "authentication failed").WithCause(err)
	}

	if err := m.store.Store(ctx, m.key(provider), tok); err != nil {
		return nil, err
	}
	m.logger.Info("authenticated",
		zap.String("provider", provider),
		zap.String("access_token", oauth.MaskToken(tok.AccessToken)),
	)
	return tok, nil
}

// AuthenticationStatus reports the session state for provider. User info is
// fetched best effort and omitted on failure.
func (m *Manager) AuthenticationStatus(ctx context.Context, provider string) (*Status, error) {
	st := &Status{Provider: provider}
	p, ok := m.registry.Get(provider)
	if !ok {
		return st, nil
	}

	tok, err := m.usableToken(ctx, provider)
	if err != nil || tok == nil {
		return st, err
	}

	st.Authenticated = true
	st.Scopes = tok.Scopes
	st.ExpiresAt = tok.Expiry()
	st.LastRefresh = m.lastRefreshed(provider)

	user, err := m.users.Fetch(ctx, p, tok)
	if err != nil {
		m.logger.Debug("user info unavailable", zap.String("provider", provider), zap.Error(err))
	} else {
		st.User = user
	}
	return st, nil
}

// AuthenticatedRequest returns a usable session for provider, or nil when
// there is none. A session lacking any of requiredScopes fails with
// InsufficientScope.
func (m *Manager) AuthenticatedRequest(ctx context.Context, provider string, requiredScopes ...string) (*Context, error) {
	p, ok := m.registry.Get(provider)
	if !ok {
		return nil, nil
	}

	tok, err := m.usableToken(ctx, provider)
	if err != nil || tok == nil {
		return nil, err
	}

	if missing := tok.MissingScopes(requiredScopes); len(missing) > 0 {
		return nil, oauth.NewError(oauth.CodeInsufficientScope, provider, "token is missing required scopes %v", missing).
			WithStatus(http.StatusForbidden).
			WithDetail("required", requiredScopes).
			WithDetail("available", tok.Scopes).
			WithDetail("missing", missing)
	}

	user, err := m.users.Fetch(ctx, p, tok)
	if err != nil && !errors.Is(err, oauth.ErrUserInfoNotSupported) {
		return nil, err
	}

	return &Context{Provider: provider, Token: tok, User: user}, nil
}

// RequireAuthentication is AuthenticatedRequest for gated operations: a
// missing session fails with AuthenticationRequired and fires OnAuthRequired.
func (m *Manager) RequireAuthentication(ctx context.Context, provider string, requiredScopes ...string) (*Context, error) {
	ac, err := m.AuthenticatedRequest(ctx, provider, requiredScopes...)
	if err != nil {
		return nil, err
	}
	if ac != nil {
		return ac, nil
	}

	if m.cfg.OnAuthRequired != nil {
		m.cfg.OnAuthRequired(provider)
	}
	return nil, oauth.NewError(oauth.CodeAuthenticationRequired, provider, "authentication with %s is required", provider).
		WithStatus(http.StatusUnauthorized)
}

// RefreshTokens renews the stored token with its refresh token. It returns
// nil when there is nothing to refresh. A refresh rejected by the provider,
// or failing in transport, deletes the stored record and also returns nil.
// Concurrent calls for one provider share a single token endpoint request
// that outlives any one caller; a caller whose ctx ends gets ctx.Err() and
// the stored record is kept.
func (m *Manager) RefreshTokens(ctx context.Context, provider string) (*oauth.Token, error) {
	ch := m.refreshes.DoChan(provider, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(rctx, provider)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tok, _ := res.Val.(*oauth.Token)
		if tok == nil {
			return nil, nil
		}
		return tok.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, provider string) (*oauth.Token, error) {
	p, ok := m.registry.Get(provider)
	if !ok {
		return nil, notFound(provider)
	}

	key := m.key(provider)
	current, err := m.peek(ctx, key)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, nil
	}

	var tok *oauth.Token
	if r, ok := m.store.(tokenstore.Refresher); ok {
		tok, err = r.RefreshToken(ctx, key, current.RefreshToken, p)
	} else {
		tok, err = m.tokens.Refresh(ctx, p, current.RefreshToken)
		if err == nil {
			err = m.store.Store(ctx, key, tok)
		}
	}
	if err != nil {
		if keepsSession(err) {
			m.logger.Warn("token refresh did not complete, keeping stored token",
				zap.String("provider", provider),
				zap.Error(err),
			)
			return nil, err
		}
		m.logger.Warn("token refresh failed, removing stored token",
			zap.String("provider", provider),
			zap.String("refresh_token", oauth.MaskToken(current.RefreshToken)),
			zap.Error(err),
		)
		if rerr := m.store.Remove(ctx, key); rerr != nil {
			return nil, rerr
		}
		m.setLastRefresh(provider, time.Time{})
		return nil, nil
	}

	m.setLastRefresh(provider, m.now())
	m.logger.Info("token refreshed",
		zap.String("provider", provider),
		zap.String("access_token", oauth.MaskToken(tok.AccessToken)),
	)
	if m.cfg.OnTokenRefresh != nil {
		m.cfg.OnTokenRefresh(provider, tok.Clone())
	}
	return tok, nil
}

// keepsSession reports refresh errors that say nothing about the refresh
// token itself: a deadline or cancellation, or a failed write of the new record
func keepsSession(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, oauth.ErrTokenStoreFailed)
}

// RevokeAuthentication deletes the stored token for provider. No remote
// revocation is attempted.
func (m *Manager) RevokeAuthentication(ctx context.Context, provider string) error {
	m.setLastRefresh(provider, time.Time{})
	return m.store.Remove(ctx, m.key(provider))
}

// ClearAllAuthentications deletes every stored token
func (m *Manager) ClearAllAuthentications(ctx context.Context) error {
	m.mu.Lock()
	m.lastRefresh = make(map[string]time.Time)
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

// AuthenticatedProviders returns the registered providers with a usable
// session, in registration order
func (m *Manager) AuthenticatedProviders(ctx context.Context) ([]string, error) {
	var out []string
	for _, name := range m.registry.Names() {
		st, err := m.AuthenticationStatus(ctx, name)
		if err != nil {
			return nil, err
		}
		if st.Authenticated {
			out = append(out, name)
		}
	}
	return out, nil
}

// UserInfo fetches the normalized profile for the current session
func (m *Manager) UserInfo(ctx context.Context, provider string) (*oauth.UserInfo, error) {
	p, ok := m.registry.Get(provider)
	if !ok {
		return nil, notFound(provider)
	}
	tok, err := m.usableToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, oauth.NewError(oauth.CodeNotAuthenticated, provider, "not authenticated")
	}
	return m.users.Fetch(ctx, p, tok)
}

// TokenSource returns an oauth2.TokenSource backed by the stored session.
// Token fails with AuthenticationRequired once no usable session remains.
func (m *Manager) TokenSource(ctx context.Context, provider string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &managerTokenSource{ctx: ctx, m: m, provider: provider})
}

// Cleanup cancels pending flows and stops the callback listener
func (m *Manager) Cleanup(ctx context.Context) error {
	return m.engine.Cleanup(ctx)
}

// usableToken applies the refresh policy: unexpired tokens are returned,
// expired ones are refreshed when possible and otherwise deleted
func (m *Manager) usableToken(ctx context.Context, provider string) (*oauth.Token, error) {
	key := m.key(provider)
	tok, err := m.peek(ctx, key)
	if err != nil || tok == nil {
		return nil, err
	}
	if !tok.Expired(m.now()) {
		return tok, nil
	}

	if tok.RefreshToken == "" || m.cfg.DisableAutoRefresh {
		m.logger.Debug("discarding expired token", zap.String("provider", provider))
		return nil, m.store.Remove(ctx, key)
	}
	return m.RefreshTokens(ctx, provider)
}

// peek reads without expiry eviction when the store supports it so an
// expired record keeps its refresh token available
func (m *Manager) peek(ctx context.Context, key string) (*oauth.Token, error) {
	if p, ok := m.store.(tokenstore.Peeker); ok {
		return p.Peek(ctx, key)
	}
	return m.store.Retrieve(ctx, key)
}

func (m *Manager) key(provider string) string {
	return tokenstore.StorageKey(m.cfg.Namespace, provider)
}

func (m *Manager) lastRefreshed(provider string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefresh[provider]
}

func (m *Manager) setLastRefresh(provider string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.IsZero() {
		delete(m.lastRefresh, provider)
		return
	}
	m.lastRefresh[provider] = t
}

func notFound(provider string) *oauth.Error {
	return oauth.NewError(oauth.CodeProviderNotFound, provider, "provider %q is not registered", provider)
}

type managerTokenSource struct {
	ctx      context.Context
	m        *Manager
	provider string
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.m.usableToken(s.ctx, s.provider)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, oauth.NewError(oauth.CodeAuthenticationRequired, s.provider, "authentication with %s is required", s.provider)
	}
	return tok.OAuth2(), nil
}
