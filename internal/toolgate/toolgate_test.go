package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/mcp-oauth/internal/auth"
	"github.com/wrale/mcp-oauth/internal/oauth"
)

// fakeAuth answers RequireAuthentication from a fixed session or error
type fakeAuth struct {
	session *auth.Context
	err     error
	calls   []string
	scopes  [][]string
}

func (f *fakeAuth) RequireAuthentication(_ context.Context, provider string, scopes ...string) (*auth.Context, error) {
	f.calls = append(f.calls, provider)
	f.scopes = append(f.scopes, scopes)
	return f.session, f.err
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func echoTool() Tool {
	return Tool{
		Name:        "list_repos",
		Description: "List repositories",
		Provider:    "github",
		Scopes:      []string{"repo"},
		Options:     []mcp.ToolOption{mcp.WithString("org", mcp.Description("Organization"))},
		Handler: func(ctx context.Context, ac *auth.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(ac.AuthorizationHeader() + " org=" + req.GetString("org", "")), nil
		},
	}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestToolValidate(t *testing.T) {
	tests := []struct {
		name           string
		tool           Tool
		wantViolations int
	}{
		{name: "valid", tool: echoTool()},
		{name: "empty", tool: Tool{}, wantViolations: 3},
		{name: "bad name", tool: Tool{Name: "list repos!", Provider: "github", Handler: echoTool().Handler}, wantViolations: 1},
		{name: "blank scope", tool: Tool{Name: "x", Provider: "github", Scopes: []string{"repo", " "}, Handler: echoTool().Handler}, wantViolations: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tool.Validate()
			if tt.wantViolations == 0 {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, oauth.ErrInvalidToolDefinition)
			var oerr *oauth.Error
			require.True(t, errors.As(err, &oerr))
			assert.Len(t, oerr.Details["violations"], tt.wantViolations)
		})
	}
}

func TestGatedToolRunsWithSession(t *testing.T) {
	fa := &fakeAuth{session: &auth.Context{
		Provider: "github",
		Token:    &oauth.Token{AccessToken: "tok1", TokenType: "Bearer"},
	}}
	st, err := New(fa).Wrap(echoTool())
	require.NoError(t, err)
	assert.Equal(t, "list_repos", st.Tool.Name)
	assert.Contains(t, st.Tool.InputSchema.Properties, "org")

	res, err := st.Handler(context.Background(), callRequest(map[string]any{"org": "wrale"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Bearer tok1 org=wrale", resultText(t, res))
	assert.Equal(t, []string{"github"}, fa.calls)
	assert.Equal(t, [][]string{{"repo"}}, fa.scopes)
}

func TestGatedToolDenials(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantContains string
	}{
		{
			name:         "authentication required",
			err:          oauth.NewError(oauth.CodeAuthenticationRequired, "github", "authentication required"),
			wantContains: `Call the authenticate tool with provider "github"`,
		},
		{
			name: "insufficient scope",
			err: oauth.NewError(oauth.CodeInsufficientScope, "github", "missing scopes").
				WithDetail("missing", []string{"repo", "admin:org"}),
			wantContains: "lacks the required scopes: repo, admin:org",
		},
		{
			name:         "storage failure",
			err:          oauth.NewError(oauth.CodeTokenRetrieveFailed, "", "reading token file"),
			wantContains: "Authorization check for github failed: reading token file",
		},
		{
			name:         "plain error",
			err:          errors.New("boom"),
			wantContains: "Authorization check for github failed: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			tool := echoTool()
			tool.Handler = func(context.Context, *auth.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				called = true
				return nil, nil
			}
			st, err := New(&fakeAuth{err: tt.err}).Wrap(tool)
			require.NoError(t, err)

			res, err := st.Handler(context.Background(), callRequest(nil))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.wantContains)
			assert.False(t, called)
		})
	}
}

func TestGatedToolHandlerError(t *testing.T) {
	tool := echoTool()
	tool.Handler = func(context.Context, *auth.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("upstream 502")
	}
	fa := &fakeAuth{session: &auth.Context{Provider: "github", Token: &oauth.Token{AccessToken: "a"}}}
	st, err := New(fa).Wrap(tool)
	require.NoError(t, err)

	res, err := st.Handler(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Tool list_repos failed: upstream 502", resultText(t, res))
}

type toolRecorder struct {
	names []string
}

func (r *toolRecorder) AddTools(tools ...server.ServerTool) {
	for _, t := range tools {
		r.names = append(r.names, t.Tool.Name)
	}
}

func TestRegisterValidatesEveryTool(t *testing.T) {
	rec := &toolRecorder{}
	g := New(&fakeAuth{})

	err := g.Register(rec, echoTool(), Tool{Name: "bad"}, Tool{Provider: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, oauth.ErrInvalidToolDefinition)
	assert.Empty(t, rec.names)

	require.NoError(t, g.Register(rec, echoTool()))
	assert.Equal(t, []string{"list_repos"}, rec.names)

	// *server.MCPServer is a valid target
	var _ ToolAdder = server.NewMCPServer("test", "0.0.0")
}

// fakeSessions backs the auth tools
type fakeSessions struct {
	status  map[string]*auth.Status
	revoked []string
	authErr error
}

func (f *fakeSessions) Authenticate(_ context.Context, provider string) (*oauth.Token, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &oauth.Token{AccessToken: "tok1", ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()}, nil
}

func (f *fakeSessions) AuthenticationStatus(_ context.Context, provider string) (*auth.Status, error) {
	if st, ok := f.status[provider]; ok {
		return st, nil
	}
	return &auth.Status{Provider: provider}, nil
}

func (f *fakeSessions) RevokeAuthentication(_ context.Context, provider string) error {
	f.revoked = append(f.revoked, provider)
	return nil
}

func (f *fakeSessions) Providers() []string {
	return []string{"github", "google"}
}

func authTool(t *testing.T, s Sessions, name string) server.ToolHandlerFunc {
	t.Helper()
	for _, st := range AuthTools(s) {
		if st.Tool.Name == name {
			return st.Handler
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestAuthenticateTool(t *testing.T) {
	ctx := context.Background()

	res, err := authTool(t, &fakeSessions{}, "authenticate")(ctx, callRequest(map[string]any{"provider": "github"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Authenticated with github. Session expires at 2030-01-01T00:00:00Z.", resultText(t, res))

	res, err = authTool(t, &fakeSessions{}, "authenticate")(ctx, callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	failing := &fakeSessions{authErr: oauth.NewError(oauth.CodeAuthenticationFailed, "github", "authentication failed")}
	res, err = authTool(t, failing, "authenticate")(ctx, callRequest(map[string]any{"provider": "github"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Authentication with github failed")
}

func TestStatusTool(t *testing.T) {
	s := &fakeSessions{status: map[string]*auth.Status{
		"github": {
			Provider:      "github",
			Authenticated: true,
			User:          &oauth.UserInfo{ID: "1", Username: "octocat"},
			ExpiresAt:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}}

	res, err := authTool(t, s, "auth_status")(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var views []StatusView
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &views))
	require.Len(t, views, 2)
	assert.True(t, views[0].Authenticated)
	assert.Equal(t, "octocat", views[0].User.Username)
	assert.Equal(t, "2030-01-01T00:00:00Z", views[0].ExpiresAt)
	assert.Equal(t, StatusView{Provider: "google"}, views[1])

	res, err = authTool(t, s, "auth_status")(context.Background(), callRequest(map[string]any{"provider": "google"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &views))
	assert.Len(t, views, 1)
}

func TestLogoutTool(t *testing.T) {
	s := &fakeSessions{}
	res, err := authTool(t, s, "logout")(context.Background(), callRequest(map[string]any{"provider": "github"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"github"}, s.revoked)
}
