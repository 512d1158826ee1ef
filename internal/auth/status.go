package auth

import (
	"time"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// Status reports whether a provider has a usable session
type Status struct {
	Authenticated bool
	Provider      string
	User          *oauth.UserInfo
	Scopes        []string

	// ExpiresAt is zero when the token does not expire
	ExpiresAt time.Time

	// LastRefresh is zero when this process has not refreshed the token
	LastRefresh time.Time
}
