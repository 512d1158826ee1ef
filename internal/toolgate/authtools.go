package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wrale/mcp-oauth/internal/auth"
	"github.com/wrale/mcp-oauth/internal/oauth"
)

// Sessions is the session management surface exposed as MCP tools
type Sessions interface {
	Authenticate(ctx context.Context, provider string) (*oauth.Token, error)
	AuthenticationStatus(ctx context.Context, provider string) (*auth.Status, error)
	RevokeAuthentication(ctx context.Context, provider string) error
	Providers() []string
}

// StatusView is the JSON shape returned by the status tool
type StatusView struct {
	Provider      string          `json:"provider"`
	Authenticated bool            `json:"authenticated"`
	User          *oauth.UserInfo `json:"user,omitempty"`
	Scopes        []string        `json:"scopes,omitempty"`
	ExpiresAt     string          `json:"expiresAt,omitempty"`
	LastRefresh   string          `json:"lastRefresh,omitempty"`
}

// NewStatusView converts a Status for display
func NewStatusView(st *auth.Status) StatusView {
	v := StatusView{
		Provider:      st.Provider,
		Authenticated: st.Authenticated,
		User:          st.User,
		Scopes:        st.Scopes,
	}
	if !st.ExpiresAt.IsZero() {
		v.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if !st.LastRefresh.IsZero() {
		v.LastRefresh = st.LastRefresh.UTC().Format(time.RFC3339)
	}
	return v
}

// AuthTools returns the authenticate, auth_status and logout tools
func AuthTools(s Sessions) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("authenticate",
				mcp.WithDescription("Sign in to an OAuth provider. Opens a browser window and waits for the sign-in to finish."),
				mcp.WithString("provider", mcp.Required(), mcp.Description("Provider name")),
			),
			Handler: handleAuthenticate(s),
		},
		{
			Tool: mcp.NewTool("auth_status",
				mcp.WithDescription("Show the sign-in state of one provider, or of every provider when none is given."),
				mcp.WithString("provider", mcp.Description("Provider name")),
			),
			Handler: handleStatus(s),
		},
		{
			Tool: mcp.NewTool("logout",
				mcp.WithDescription("Delete the stored session for a provider."),
				mcp.WithString("provider", mcp.Required(), mcp.Description("Provider name")),
			),
			Handler: handleLogout(s),
		},
	}
}

func handleAuthenticate(s Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		provider, err := req.RequireString("provider")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		tok, err := s.Authenticate(ctx, provider)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Authentication with %s failed: %v", provider, err)), nil
		}
		msg := fmt.Sprintf("Authenticated with %s.", provider)
		if !tok.Expiry().IsZero() {
			msg += fmt.Sprintf(" Session expires at %s.", tok.Expiry().UTC().Format(time.RFC3339))
		}
		return mcp.NewToolResultText(msg), nil
	}
}

func handleStatus(s Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		providers := s.Providers()
		if p := req.GetString("provider", ""); p != "" {
			providers = []string{p}
		}

		views := make([]StatusView, 0, len(providers))
		for _, p := range providers {
			st, err := s.AuthenticationStatus(ctx, p)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Reading status for %s failed: %v", p, err)), nil
			}
			views = append(views, NewStatusView(st))
		}

		out, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format status: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func handleLogout(s Sessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		provider, err := req.RequireString("provider")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.RevokeAuthentication(ctx, provider); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Logout from %s failed: %v", provider, err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Logged out of %s.", provider)), nil
	}
}
