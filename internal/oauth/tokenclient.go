package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// HTTP request timeout for token and user info calls
	defaultTimeout = 30 * time.Second

	// Upper bound on token endpoint response bodies
	maxResponseBytes = 1 << 20
)

// TokenClient performs token endpoint requests for the authorization code
// and refresh token grants
type TokenClient struct {
	client *http.Client
	now    func() time.Time
}

// NewTokenClient creates a token client; a nil client gets a default with timeout
func NewTokenClient(client *http.Client) *TokenClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &TokenClient{client: client, now: time.Now}
}

// tokenResponse is the token endpoint JSON body, success or error
type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	TokenType        string      `json:"token_type"`
	RefreshToken     string      `json:"refresh_token"`
	ExpiresIn        json.Number `json:"expires_in"`
	Scope            string      `json:"scope"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// grantCodes selects the error kinds for one grant type
type grantCodes struct {
	failed, protocol, network ErrorCode
	action                    string
}

var (
	exchangeCodes = grantCodes{
		failed:   CodeTokenExchangeFailed,
		protocol: CodeTokenExchangeError,
		network:  CodeTokenExchangeNetworkError,
		action:   "token exchange",
	}
	refreshCodes = grantCodes{
		failed:   CodeTokenRefreshFailed,
		protocol: CodeTokenRefreshError,
		network:  CodeTokenRefreshNetworkError,
		action:   "token refresh",
	}
)

// ExchangeCode exchanges an authorization code and PKCE verifier for tokens.
// redirectURI must be the exact value used to start the flow.
func (c *TokenClient) ExchangeCode(ctx context.Context, p *Provider, code, redirectURI, verifier string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.ClientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	if p.ClientSecret != "" {
		data.Set("client_secret", p.ClientSecret)
	}

	resp, err := c.post(ctx, p, data, exchangeCodes)
	if err != nil {
		return nil, err
	}
	return c.toToken(p, resp, ""), nil
}

// Refresh performs a refresh token grant. When the response does not rotate
// the refresh token the previous one is carried into the new record.
func (c *TokenClient) Refresh(ctx context.Context, p *Provider, refreshToken string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {p.ClientID},
		"refresh_token": {refreshToken},
	}
	if p.ClientSecret != "" {
		data.Set("client_secret", p.ClientSecret)
	}

	resp, err := c.post(ctx, p, data, refreshCodes)
	if err != nil {
		return nil, err
	}
	return c.toToken(p, resp, refreshToken), nil
}

func (c *TokenClient) post(ctx context.Context, p *Provider, data url.Values, codes grantCodes) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, NewError(codes.network, p.Name, "creating %s request", codes.action).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(codes.network, p.Name, "sending %s request", codes.action).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(codes.network, p.Name, "reading %s response", codes.action).WithCause(err)
	}

	var tr tokenResponse
	parseErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := NewError(codes.failed, p.Name, "%s failed with status %d", codes.action, resp.StatusCode).
			WithStatus(resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", upstreamBody(body))
		if parseErr == nil && tr.Error != "" {
			e.WithDetail("error", tr.Error)
			if tr.ErrorDescription != "" {
				e.WithDetail("error_description", tr.ErrorDescription)
			}
		}
		return nil, e
	}

	if parseErr != nil {
		return nil, NewError(codes.protocol, p.Name, "parsing %s response", codes.action).
			WithCause(parseErr).
			WithDetail("body", upstreamBody(body))
	}
	if tr.Error != "" {
		msg := tr.Error
		if tr.ErrorDescription != "" {
			msg = tr.ErrorDescription
		}
		return nil, NewError(codes.protocol, p.Name, "%s rejected: %s", codes.action, msg).
			WithDetail("error", tr.Error).
			WithDetail("error_description", tr.ErrorDescription)
	}
	if tr.AccessToken == "" {
		return nil, NewError(codes.protocol, p.Name, "%s response missing access_token", codes.action)
	}
	return &tr, nil
}

func (c *TokenClient) toToken(p *Provider, tr *tokenResponse, previousRefresh string) *Token {
	tok := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = DefaultTokenType
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = previousRefresh
	}
	if scope := strings.TrimSpace(tr.Scope); scope != "" {
		tok.Scopes = strings.Fields(scope)
	} else {
		tok.Scopes = append([]string(nil), p.Scopes...)
	}
	if tr.ExpiresIn != "" {
		if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
			tok.ExpiresAt = ExpiresAtFromNow(c.now(), secs)
		}
	}
	return tok
}

// upstreamBody keeps error bodies readable in details without echoing large payloads
func upstreamBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

