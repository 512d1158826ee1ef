package auth

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/oauth"
	"github.com/wrale/mcp-oauth/internal/pkceflow"
	"github.com/wrale/mcp-oauth/internal/tokenstore"
)

// Config configures a Manager. Zero values select the defaults.
type Config struct {
	// Providers are registered at construction; each must validate
	Providers []oauth.Provider

	// Callback listener settings; see pkceflow defaults
	CallbackHost string
	CallbackPort int
	CallbackPath string

	// FlowTimeout bounds one authorization flow
	FlowTimeout time.Duration

	// DisableAutoRefresh treats expired tokens as absent instead of refreshing
	DisableAutoRefresh bool

	// Store persists token records; defaults to an encrypted FileStore.
	// Automatic refresh of expired tokens needs a store that also
	// implements tokenstore.Peeker: without it Retrieve evicts the expired
	// record, refresh token included, before it can be used.
	Store tokenstore.Store

	// Namespace prefixes storage keys; defaults to tokenstore.DefaultNamespace
	Namespace string

	// OnTokenRefresh is called after a successful refresh
	OnTokenRefresh func(provider string, token *oauth.Token)

	// OnAuthRequired is called when a gated operation finds no usable session
	OnAuthRequired func(provider string)

	HTTPClient    *http.Client
	Logger        *zap.Logger
	BrowserOpener pkceflow.BrowserOpener

	// FlowOptions are applied to the flow engine after the settings above
	FlowOptions []pkceflow.Option
}

func (c Config) flowOptions(logger *zap.Logger) []pkceflow.Option {
	opts := []pkceflow.Option{pkceflow.WithLogger(logger)}
	if c.CallbackHost != "" {
		opts = append(opts, pkceflow.WithCallbackHost(c.CallbackHost))
	}
	if c.CallbackPort != 0 {
		opts = append(opts, pkceflow.WithCallbackPort(c.CallbackPort))
	}
	if c.CallbackPath != "" {
		opts = append(opts, pkceflow.WithCallbackPath(c.CallbackPath))
	}
	if c.FlowTimeout > 0 {
		opts = append(opts, pkceflow.WithTimeout(c.FlowTimeout))
	}
	if c.HTTPClient != nil {
		opts = append(opts, pkceflow.WithHTTPClient(c.HTTPClient))
	}
	if c.BrowserOpener != nil {
		opts = append(opts, pkceflow.WithBrowserOpener(c.BrowserOpener))
	}
	return append(opts, c.FlowOptions...)
}
