// Package oauth provides the OAuth 2.0 client building blocks shared by the
// flow engine, token stores and the authentication manager: provider
// configuration, token records, normalized user info and the error taxonomy.
package oauth

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/wrale/mcp-oauth/internal/validation"
)

// DefaultTokenType is used when a token endpoint omits token_type
const DefaultTokenType = "Bearer"

// Provider holds the OAuth client configuration for one identity provider
type Provider struct {
	Name             string            `json:"name" yaml:"name"`
	ClientID         string            `json:"clientId" yaml:"clientId"`
	ClientSecret     string            `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	AuthorizationURL string            `json:"authorizationUrl" yaml:"authorizationUrl"`
	TokenURL         string            `json:"tokenUrl" yaml:"tokenUrl"`
	Scopes           []string          `json:"scope" yaml:"scope"`
	RedirectURI      string            `json:"redirectUri,omitempty" yaml:"redirectUri,omitempty"`
	ExtraParams      map[string]string `json:"additionalParams,omitempty" yaml:"additionalParams,omitempty"`

	// UserInfoURL overrides the built-in user info endpoint table
	UserInfoURL string `json:"userInfoUrl,omitempty" yaml:"userInfoUrl,omitempty"`
}

// Validate checks every rule and returns InvalidProvider listing all violations
func (p *Provider) Validate() error {
	var v validation.Validator
	v.Required("name", p.Name)
	v.Required("clientId", p.ClientID)
	v.URL("authorizationUrl", p.AuthorizationURL)
	v.URL("tokenUrl", p.TokenURL)
	v.NonEmpty("scope", p.Scopes)
	v.OptionalURL("redirectUri", p.RedirectURI)
	v.OptionalURL("userInfoUrl", p.UserInfoURL)

	err := v.Err()
	if err == nil {
		return nil
	}
	verrs, _ := err.(validation.Errors)
	return &Error{
		Code:     CodeInvalidProvider,
		Message:  "invalid provider configuration: " + err.Error(),
		Provider: p.Name,
		Details:  map[string]any{"violations": verrs.Messages()},
		Err:      err,
	}
}

// Clone returns a deep copy so registry entries cannot be mutated by callers
func (p *Provider) Clone() *Provider {
	c := *p
	c.Scopes = slices.Clone(p.Scopes)
	if p.ExtraParams != nil {
		c.ExtraParams = make(map[string]string, len(p.ExtraParams))
		for k, v := range p.ExtraParams {
			c.ExtraParams[k] = v
		}
	}
	return &c
}

// OAuth2Config adapts the provider to golang.org/x/oauth2 for the given redirect URI
func (p *Provider) OAuth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthorizationURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Token is the persisted token record. ExpiresAt is epoch milliseconds;
// zero means the token does not expire.
type Token struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
	TokenType    string   `json:"tokenType"`
	Scopes       []string `json:"scope,omitempty"`
}

// ExpiresAtFromNow converts an expires_in value in seconds to an absolute epoch-ms timestamp
func ExpiresAtFromNow(now time.Time, expiresIn int64) int64 {
	return now.UnixMilli() + expiresIn*1000
}

// Expired reports whether the token carries an expiry that is not after now
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != 0 && now.UnixMilli() >= t.ExpiresAt
}

// Expiry returns the expiry as a time, zero when the token never expires
func (t *Token) Expiry() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}

// Type returns the token type, defaulting to Bearer
func (t *Token) Type() string {
	if t.TokenType == "" {
		return DefaultTokenType
	}
	return t.TokenType
}

// AuthorizationHeader returns the value for an Authorization request header
func (t *Token) AuthorizationHeader() string {
	return t.Type() + " " + t.AccessToken
}

// MissingScopes returns the required scopes not present in the granted list.
// A token without a known scope list satisfies any requirement.
func (t *Token) MissingScopes(required []string) []string {
	if len(t.Scopes) == 0 {
		return nil
	}
	var missing []string
	for _, s := range required {
		if !slices.Contains(t.Scopes, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// Clone returns a deep copy of the record
func (t *Token) Clone() *Token {
	c := *t
	c.Scopes = slices.Clone(t.Scopes)
	return &c
}

// OAuth2 converts the record for use with golang.org/x/oauth2 clients
func (t *Token) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.Type(),
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
	}
	if len(t.Scopes) > 0 {
		tok = tok.WithExtra(map[string]any{"scope": strings.Join(t.Scopes, " ")})
	}
	return tok
}

// UserInfo is the provider independent user profile
type UserInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}
