package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	inner := NewError(CodeTokenExchangeFailed, "acme", "token exchange failed with status %d", 400)
	outer := NewError(CodeAuthenticationFailed, "acme", "authentication failed").WithCause(inner)
	wrapped := fmt.Errorf("login: %w", outer)

	assert.True(t, errors.Is(wrapped, ErrAuthenticationFailed))
	assert.True(t, errors.Is(wrapped, ErrTokenExchangeFailed))
	assert.False(t, errors.Is(wrapped, ErrTokenExchangeError))
	assert.Equal(t, CodeAuthenticationFailed, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := NewError(CodeProviderNotFound, "missing-provider", "provider not registered")
	assert.Equal(t, `provider not registered (provider "missing-provider")`, err.Error())

	bare := &Error{Code: CodeOAuthTimeout}
	assert.Equal(t, "OAUTH_TIMEOUT", bare.Error())

	caused := NewError(CodeTokenStoreFailed, "", "writing token").WithCause(errors.New("disk full"))
	assert.Equal(t, "writing token: disk full", caused.Error())
}

func TestErrorHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewError(CodeOAuthInvalidState, "", "x").HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, NewError(CodeTokenExchangeFailed, "", "x").WithStatus(http.StatusBadGateway).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, NewError(CodeTokenExchangeFailed, "", "x").WithStatus(http.StatusOK).HTTPStatus())
}
