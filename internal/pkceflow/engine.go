// Package pkceflow runs OAuth 2.0 authorization code flows with PKCE (S256)
// for a native client. Every flow started by an Engine shares one local
// callback listener and is correlated to its redirect by a signed, single-use
// state value.
package pkceflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/wrale/mcp-oauth/internal/csrf"
	"github.com/wrale/mcp-oauth/internal/oauth"
	"github.com/wrale/mcp-oauth/internal/templates"
)

const (
	// DefaultCallbackHost is the default listener and redirect host
	DefaultCallbackHost = "localhost"

	// DefaultCallbackPort is the default listener port
	DefaultCallbackPort = 8080

	// DefaultCallbackPath is the default redirect path
	DefaultCallbackPath = "/oauth/callback"

	// DefaultTimeout bounds a single flow
	DefaultTimeout = 5 * time.Minute

	exchangeTimeout = 30 * time.Second
)

// reservedParams cannot be overridden by Provider.ExtraParams
var reservedParams = map[string]bool{
	"response_type":         true,
	"client_id":             true,
	"redirect_uri":          true,
	"scope":                 true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// Phase is the state machine position of an in-flight flow
type Phase string

// Flow phases. Terminal outcomes are reported to the caller and never stored.
const (
	PhaseAwaitingBrowser  Phase = "awaiting_browser_authorization"
	PhaseAwaitingCallback Phase = "awaiting_callback"
	PhaseExchanging       Phase = "exchanging_code"
)

// ProviderLookup resolves provider configuration by name
type ProviderLookup interface {
	Get(name string) (*oauth.Provider, bool)
}

// FlowInfo describes an in-flight flow without any secret material
type FlowInfo struct {
	Provider    string
	Phase       Phase
	RedirectURI string
	StartedAt   time.Time
}

type flowResult struct {
	token *oauth.Token
	err   error
}

type flow struct {
	state       string
	verifier    string
	provider    string
	redirectURI string
	started     time.Time
	phase       Phase
	timer       *time.Timer

	once   sync.Once
	result chan flowResult
}

// finish delivers the outcome; only the first call has an effect
func (f *flow) finish(tok *oauth.Token, err error) {
	f.once.Do(func() {
		f.result <- flowResult{token: tok, err: err}
	})
}

// Engine runs PKCE authorization flows
type Engine struct {
	lookup    ProviderLookup
	host      string
	port      int
	path      string
	timeout   time.Duration
	open      BrowserOpener
	tokens    *oauth.TokenClient
	templates *templates.Templates
	states    *csrf.Manager
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	flows map[string]*flow

	srvMu     sync.Mutex
	server    *http.Server
	boundAddr string
}

// NewEngine creates a flow engine that resolves providers through lookup
func NewEngine(lookup ProviderLookup, opts ...Option) (*Engine, error) {
	e := &Engine{
		lookup:  lookup,
		host:    DefaultCallbackHost,
		port:    DefaultCallbackPort,
		path:    DefaultCallbackPath,
		timeout: DefaultTimeout,
		open:    OpenSystemBrowser,
		logger:  zap.NewNop(),
		now:     time.Now,
		flows:   make(map[string]*flow),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.tokens == nil {
		e.tokens = oauth.NewTokenClient(nil)
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.path == "" || e.path[0] != '/' {
		e.path = "/" + e.path
	}

	tmpls, err := templates.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	e.templates = tmpls

	states, err := csrf.NewRandomManager()
	if err != nil {
		return nil, err
	}
	e.states = states
	return e, nil
}

// Authorize runs one authorization code flow for the named provider and
// blocks until the callback completes, the flow times out, Cleanup is called
// or ctx is done.
func (e *Engine) Authorize(ctx context.Context, providerName string) (*oauth.Token, error) {
	p, ok := e.lookup.Get(providerName)
	if !ok {
		return nil, oauth.NewError(oauth.CodeProviderNotFound, providerName, "provider is not registered")
	}

	addr, err := e.ensureServer()
	if err != nil {
		return nil, err
	}

	state, err := e.states.GenerateToken()
	if err != nil {
		return nil, oauth.NewError(oauth.CodeOAuthSetupFailed, p.Name, "generating state").WithCause(err)
	}
	verifier := oauth2.GenerateVerifier()

	redirectURI := p.RedirectURI
	if redirectURI == "" {
		redirectURI = e.redirectURI(addr)
	}
	authURL := AuthorizationURL(p, redirectURI, state, verifier)

	f := &flow{
		state:       state,
		verifier:    verifier,
		provider:    p.Name,
		redirectURI: redirectURI,
		started:     e.now(),
		phase:       PhaseAwaitingBrowser,
		result:      make(chan flowResult, 1),
	}
	e.mu.Lock()
	e.flows[state] = f
	f.timer = time.AfterFunc(e.timeout, func() { e.expire(f) })
	e.mu.Unlock()

	e.logger.Info("starting authorization flow",
		zap.String("provider", p.Name),
		zap.String("redirect_uri", redirectURI),
	)

	if err := e.open(authURL); err != nil {
		e.discard(f)
		return nil, oauth.NewError(oauth.CodeBrowserOpenFailed, p.Name, "opening browser").
			WithCause(err).
			WithDetail("authorizationUrl", authURL)
	}
	e.setPhase(f, PhaseAwaitingBrowser, PhaseAwaitingCallback)

	select {
	case res := <-f.result:
		return res.token, res.err
	case <-ctx.Done():
		if e.discard(f) {
			f.finish(nil, oauth.NewError(oauth.CodeOAuthCancelled, p.Name, "authorization cancelled").WithCause(ctx.Err()))
		}
		res := <-f.result
		return res.token, res.err
	}
}

// AuthorizationURL builds the authorization request for p. Extra provider
// parameters are appended unless they collide with a protocol parameter.
func AuthorizationURL(p *oauth.Provider, redirectURI, state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}

	keys := make([]string, 0, len(p.ExtraParams))
	for k := range p.ExtraParams {
		if !reservedParams[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, p.ExtraParams[k]))
	}

	return p.OAuth2Config(redirectURI).AuthCodeURL(state, opts...)
}

// Cleanup fails every pending flow with OAuthCancelled and stops the
// callback listener. The engine can be used again afterwards.
func (e *Engine) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	pending := make([]*flow, 0, len(e.flows))
	for state, f := range e.flows {
		f.timer.Stop()
		pending = append(pending, f)
		delete(e.flows, state)
	}
	e.mu.Unlock()

	for _, f := range pending {
		f.finish(nil, oauth.NewError(oauth.CodeOAuthCancelled, f.provider, "authorization cancelled by cleanup"))
	}
	if len(pending) > 0 {
		e.logger.Info("cancelled pending authorization flows", zap.Int("count", len(pending)))
	}
	return e.stopServer(ctx)
}

// Flows returns a snapshot of in-flight flows ordered by start time
func (e *Engine) Flows() []FlowInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]FlowInfo, 0, len(e.flows))
	for _, f := range e.flows {
		out = append(out, FlowInfo{
			Provider:    f.provider,
			Phase:       f.phase,
			RedirectURI: f.redirectURI,
			StartedAt:   f.started,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Addr returns the bound listener address, or "" when not listening
func (e *Engine) Addr() string {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()
	return e.boundAddr
}

func (e *Engine) redirectURI(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		port = strconv.Itoa(e.port)
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(e.host, port),
		Path:   e.path,
	}
	return u.String()
}

func (e *Engine) expire(f *flow) {
	e.mu.Lock()
	cur, ok := e.flows[f.state]
	if !ok || cur != f || f.phase == PhaseExchanging {
		e.mu.Unlock()
		return
	}
	delete(e.flows, f.state)
	e.mu.Unlock()

	e.logger.Warn("authorization flow timed out", zap.String("provider", f.provider), zap.Duration("timeout", e.timeout))
	f.finish(nil, oauth.NewError(oauth.CodeOAuthTimeout, f.provider, "authorization timed out after %s", e.timeout))
}

// discard removes f and stops its timer, reporting whether it was still registered
func (e *Engine) discard(f *flow) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	f.timer.Stop()
	if cur, ok := e.flows[f.state]; ok && cur == f {
		delete(e.flows, f.state)
		return true
	}
	return false
}

func (e *Engine) setPhase(f *flow, from, to Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f.phase == from {
		f.phase = to
	}
}

// claim moves the flow for state into the exchanging phase. A state is
// claimable exactly once.
func (e *Engine) claim(state string) (*flow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[state]
	if !ok || f.phase == PhaseExchanging {
		return nil, false
	}
	f.phase = PhaseExchanging
	f.timer.Stop()
	return f, true
}

// complete deletes the flow state and resolves the waiting caller
func (e *Engine) complete(f *flow, tok *oauth.Token, err error) {
	e.mu.Lock()
	if cur, ok := e.flows[f.state]; ok && cur == f {
		delete(e.flows, f.state)
	}
	e.mu.Unlock()
	f.finish(tok, err)
}

func (e *Engine) exchange(ctx context.Context, f *flow, code string) (*oauth.Token, error) {
	p, ok := e.lookup.Get(f.provider)
	if !ok {
		return nil, oauth.NewError(oauth.CodeProviderNotFound, f.provider, "provider was removed during authorization")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
	defer cancel()
	return e.tokens.ExchangeCode(ctx, p, code, f.redirectURI, f.verifier)
}
