// Package toolgate puts MCP tools behind an OAuth session check. A gated
// tool runs only when the caller holds a session for the tool's provider
// with every scope the tool declares; otherwise the call returns an
// error-flagged tool result telling the user how to authenticate.
package toolgate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/auth"
	"github.com/wrale/mcp-oauth/internal/oauth"
	"github.com/wrale/mcp-oauth/internal/validation"
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Authenticator resolves the session a gated tool runs with
type Authenticator interface {
	RequireAuthentication(ctx context.Context, provider string, requiredScopes ...string) (*auth.Context, error)
}

// Handler is the body of a gated tool
type Handler func(ctx context.Context, ac *auth.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Tool describes a gated tool
type Tool struct {
	Name        string
	Description string
	Provider    string
	Scopes      []string

	// Options add input schema properties, e.g. mcp.WithString
	Options []mcp.ToolOption
	Handler Handler
}

// Validate returns InvalidToolDefinition listing every violation
func (t Tool) Validate() error {
	var v validation.Validator
	v.Required("name", t.Name)
	if t.Name != "" {
		v.Check(toolNamePattern.MatchString(t.Name), "name", "must match "+toolNamePattern.String())
	}
	v.Required("provider", t.Provider)
	v.Check(t.Handler != nil, "handler", "is required")
	for i, s := range t.Scopes {
		v.Check(strings.TrimSpace(s) != "", fmt.Sprintf("scopes[%d]", i), "must not be empty")
	}

	err := v.Err()
	if err == nil {
		return nil
	}
	verrs, _ := err.(validation.Errors)
	return oauth.NewError(oauth.CodeInvalidToolDefinition, t.Provider, "invalid tool definition %q: %v", t.Name, err).
		WithCause(err).
		WithDetail("violations", verrs.Messages())
}

// Gate wraps tools with session checks
type Gate struct {
	auth   Authenticator
	logger *zap.Logger
}

// Option configures a Gate
type Option func(*Gate)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		g.logger = l
	}
}

// New creates a Gate
func New(a Authenticator, opts ...Option) *Gate {
	g := &Gate{auth: a, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wrap validates t and returns it as a server tool
func (g *Gate) Wrap(t Tool) (server.ServerTool, error) {
	if err := t.Validate(); err != nil {
		return server.ServerTool{}, err
	}

	opts := append([]mcp.ToolOption{mcp.WithDescription(t.Description)}, t.Options...)
	return server.ServerTool{
		Tool:    mcp.NewTool(t.Name, opts...),
		Handler: g.handler(t),
	}, nil
}

// ToolAdder is satisfied by *server.MCPServer
type ToolAdder interface {
	AddTools(tools ...server.ServerTool)
}

// Register validates every tool before adding any of them to s
func (g *Gate) Register(s ToolAdder, tools ...Tool) error {
	wrapped := make([]server.ServerTool, 0, len(tools))
	var errs []error
	for _, t := range tools {
		st, err := g.Wrap(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		wrapped = append(wrapped, st)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.AddTools(wrapped...)
	return nil
}

func (g *Gate) handler(t Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ac, err := g.auth.RequireAuthentication(ctx, t.Provider, t.Scopes...)
		if err != nil {
			g.logger.Info("tool call denied",
				zap.String("tool", t.Name),
				zap.String("provider", t.Provider),
				zap.String("code", string(oauth.CodeOf(err))),
			)
			return mcp.NewToolResultError(DenialMessage(t.Provider, err)), nil
		}

		res, err := t.Handler(ctx, ac, req)
		if err != nil {
			g.logger.Warn("tool failed", zap.String("tool", t.Name), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Tool %s failed: %v", t.Name, err)), nil
		}
		return res, nil
	}
}

// DenialMessage turns an authorization failure into user-facing text
func DenialMessage(provider string, err error) string {
	var oerr *oauth.Error
	if !errors.As(err, &oerr) {
		return fmt.Sprintf("Authorization check for %s failed: %v", provider, err)
	}
	switch oerr.Code {
	case oauth.CodeAuthenticationRequired:
		return fmt.Sprintf("Authentication with %s is required. Call the authenticate tool with provider %q, complete sign-in in the browser, then retry.", provider, provider)
	case oauth.CodeInsufficientScope:
		missing, _ := oerr.Details["missing"].([]string)
		return fmt.Sprintf("Your %s session lacks the required scopes: %s. Re-authenticate with a provider configuration that requests them.", provider, strings.Join(missing, ", "))
	default:
		return fmt.Sprintf("Authorization check for %s failed: %s", provider, oerr.Error())
	}
}
