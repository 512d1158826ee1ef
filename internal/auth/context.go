package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// Context is a usable authenticated session for one provider
type Context struct {
	Provider string
	Token    *oauth.Token
	User     *oauth.UserInfo
}

// AuthorizationHeader returns "<type> <access token>"
func (c *Context) AuthorizationHeader() string {
	return c.Token.AuthorizationHeader()
}

// Authorize sets the Authorization header on req
func (c *Context) Authorize(req *http.Request) {
	req.Header.Set("Authorization", c.AuthorizationHeader())
}

// Client returns an HTTP client that sends the session's token
func (c *Context) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(c.Token.OAuth2()))
}
