package pkceflow

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// Option configures the flow engine
type Option func(*Engine)

// WithCallbackHost sets the host the callback listener binds to and the
// host used in the redirect URI
func WithCallbackHost(host string) Option {
	return func(e *Engine) {
		e.host = host
	}
}

// WithCallbackPort sets the listener port; 0 picks a free port on first bind
func WithCallbackPort(port int) Option {
	return func(e *Engine) {
		e.port = port
	}
}

// WithCallbackPath sets the redirect path served by the listener
func WithCallbackPath(path string) Option {
	return func(e *Engine) {
		e.path = path
	}
}

// WithTimeout sets the per-flow deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithBrowserOpener replaces the system browser launcher
func WithBrowserOpener(open BrowserOpener) Option {
	return func(e *Engine) {
		e.open = open
	}
}

// WithHTTPClient sets the client used for the code exchange
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.tokens = oauth.NewTokenClient(c)
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}
