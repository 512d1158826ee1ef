package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Well-known user info endpoints keyed by provider name
var userInfoEndpoints = map[string]string{
	"github":    "https://api.github.com/user",
	"google":    "https://www.googleapis.com/oauth2/v2/userinfo",
	"microsoft": "https://graph.microsoft.com/v1.0/me",
	"gitlab":    "https://gitlab.com/api/v4/user",
	"discord":   "https://discord.com/api/users/@me",
}

type normalizer func(raw map[string]any) *UserInfo

// Provider specific mappings; anything else goes through normalizeGeneric
var normalizers = map[string]normalizer{
	"github":    normalizeGitHub,
	"google":    normalizeGoogle,
	"microsoft": normalizeMicrosoft,
}

// UserInfoClient fetches and normalizes user profiles
type UserInfoClient struct {
	client *http.Client
}

// NewUserInfoClient creates a user info client; a nil client gets a default with timeout
func NewUserInfoClient(client *http.Client) *UserInfoClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &UserInfoClient{client: client}
}

// Endpoint resolves the user info URL for a provider
func (c *UserInfoClient) Endpoint(p *Provider) (string, bool) {
	if p.UserInfoURL != "" {
		return p.UserInfoURL, true
	}
	u, ok := userInfoEndpoints[strings.ToLower(p.Name)]
	return u, ok
}

// Fetch calls the provider's user info endpoint with tok and normalizes the response
func (c *UserInfoClient) Fetch(ctx context.Context, p *Provider, tok *Token) (*UserInfo, error) {
	endpoint, ok := c.Endpoint(p)
	if !ok {
		return nil, NewError(CodeUserInfoNotSupported, p.Name, "user info is not supported for this provider")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(CodeUserInfoNetworkError, p.Name, "creating user info request").WithCause(err)
	}
	req.Header.Set("Authorization", tok.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(CodeUserInfoNetworkError, p.Name, "sending user info request").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(CodeUserInfoNetworkError, p.Name, "reading user info response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewError(CodeUserInfoRequestFailed, p.Name, "user info request failed with status %d", resp.StatusCode).
			WithStatus(resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", upstreamBody(body))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, NewError(CodeUserInfoRequestFailed, p.Name, "parsing user info response").WithCause(err)
	}
	return NormalizeUserInfo(p.Name, raw), nil
}

// NormalizeUserInfo maps a provider response into the common shape
func NormalizeUserInfo(provider string, raw map[string]any) *UserInfo {
	if fn, ok := normalizers[strings.ToLower(provider)]; ok {
		return fn(raw)
	}
	return normalizeGeneric(raw)
}

func normalizeGitHub(raw map[string]any) *UserInfo {
	return &UserInfo{
		ID:        field(raw, "id"),
		Username:  field(raw, "login"),
		Email:     field(raw, "email"),
		Name:      field(raw, "name", "login"),
		AvatarURL: field(raw, "avatar_url"),
	}
}

func normalizeGoogle(raw map[string]any) *UserInfo {
	return &UserInfo{
		ID:        field(raw, "id", "sub"),
		Username:  field(raw, "email"),
		Email:     field(raw, "email"),
		Name:      field(raw, "name"),
		AvatarURL: field(raw, "picture"),
	}
}

func normalizeMicrosoft(raw map[string]any) *UserInfo {
	return &UserInfo{
		ID:       field(raw, "id"),
		Username: field(raw, "userPrincipalName"),
		Email:    field(raw, "mail", "userPrincipalName"),
		Name:     field(raw, "displayName"),
	}
}

func normalizeGeneric(raw map[string]any) *UserInfo {
	return &UserInfo{
		ID:        field(raw, "id", "sub", "user_id"),
		Username:  field(raw, "username", "login", "preferred_username"),
		Email:     field(raw, "email", "mail"),
		Name:      field(raw, "name", "display_name", "displayName"),
		AvatarURL: field(raw, "avatar_url", "picture", "photo"),
	}
}

// field returns the first non-empty value among keys, stringified
func field(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}
