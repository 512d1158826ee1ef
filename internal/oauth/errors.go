package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable kind of an Error
type ErrorCode string

// Error codes shared by the registry, stores, flow engine and manager
const (
	CodeInvalidProvider           ErrorCode = "INVALID_PROVIDER"
	CodeProviderNotFound          ErrorCode = "PROVIDER_NOT_FOUND"
	CodeOAuthSetupFailed          ErrorCode = "OAUTH_SETUP_FAILED"
	CodePortInUse                 ErrorCode = "PORT_IN_USE"
	CodeServerStartFailed         ErrorCode = "SERVER_START_FAILED"
	CodeBrowserOpenFailed         ErrorCode = "BROWSER_OPEN_FAILED"
	CodeOAuthAuthorizationFailed  ErrorCode = "OAUTH_AUTHORIZATION_FAILED"
	CodeOAuthInvalidCallback      ErrorCode = "OAUTH_INVALID_CALLBACK"
	CodeOAuthInvalidState         ErrorCode = "OAUTH_INVALID_STATE"
	CodeTokenExchangeFailed       ErrorCode = "TOKEN_EXCHANGE_FAILED"
	CodeTokenExchangeError        ErrorCode = "TOKEN_EXCHANGE_ERROR"
	CodeTokenExchangeNetworkError ErrorCode = "TOKEN_EXCHANGE_NETWORK_ERROR"
	CodeOAuthTimeout              ErrorCode = "OAUTH_TIMEOUT"
	CodeOAuthCancelled            ErrorCode = "OAUTH_CANCELLED"
	CodeAuthenticationFailed      ErrorCode = "AUTHENTICATION_FAILED"
	CodeAuthenticationRequired    ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeInsufficientScope         ErrorCode = "INSUFFICIENT_SCOPE"
	CodeNotAuthenticated          ErrorCode = "NOT_AUTHENTICATED"
	CodeUserInfoNotSupported      ErrorCode = "USER_INFO_NOT_SUPPORTED"
	CodeUserInfoRequestFailed     ErrorCode = "USER_INFO_REQUEST_FAILED"
	CodeUserInfoNetworkError      ErrorCode = "USER_INFO_NETWORK_ERROR"
	CodeTokenStoreFailed          ErrorCode = "TOKEN_STORE_FAILED"
	CodeTokenRetrieveFailed       ErrorCode = "TOKEN_RETRIEVE_FAILED"
	CodeTokenRemoveFailed         ErrorCode = "TOKEN_REMOVE_FAILED"
	CodeTokenClearFailed          ErrorCode = "TOKEN_CLEAR_FAILED"
	CodeTokenListFailed           ErrorCode = "TOKEN_LIST_FAILED"
	CodeEncryptionFailed          ErrorCode = "ENCRYPTION_FAILED"
	CodeDecryptionFailed          ErrorCode = "DECRYPTION_FAILED"
	CodeTokenRefreshFailed        ErrorCode = "TOKEN_REFRESH_FAILED"
	CodeTokenRefreshError         ErrorCode = "TOKEN_REFRESH_ERROR"
	CodeTokenRefreshNetworkError  ErrorCode = "TOKEN_REFRESH_NETWORK_ERROR"
	CodeInvalidToolDefinition     ErrorCode = "INVALID_TOOL_DEFINITION"
)

// Sentinels for errors.Is; matching is by Code only
var (
	ErrInvalidProvider           = &Error{Code: CodeInvalidProvider}
	ErrProviderNotFound          = &Error{Code: CodeProviderNotFound}
	ErrOAuthSetupFailed          = &Error{Code: CodeOAuthSetupFailed}
	ErrPortInUse                 = &Error{Code: CodePortInUse}
	ErrServerStartFailed         = &Error{Code: CodeServerStartFailed}
	ErrBrowserOpenFailed         = &Error{Code: CodeBrowserOpenFailed}
	ErrOAuthAuthorizationFailed  = &Error{Code: CodeOAuthAuthorizationFailed}
	ErrOAuthInvalidCallback      = &Error{Code: CodeOAuthInvalidCallback}
	ErrOAuthInvalidState         = &Error{Code: CodeOAuthInvalidState}
	ErrTokenExchangeFailed       = &Error{Code: CodeTokenExchangeFailed}
	ErrTokenExchangeError        = &Error{Code: CodeTokenExchangeError}
	ErrTokenExchangeNetworkError = &Error{Code: CodeTokenExchangeNetworkError}
	ErrOAuthTimeout              = &Error{Code: CodeOAuthTimeout}
	ErrOAuthCancelled            = &Error{Code: CodeOAuthCancelled}
	ErrAuthenticationFailed      = &Error{Code: CodeAuthenticationFailed}
	ErrAuthenticationRequired    = &Error{Code: CodeAuthenticationRequired}
	ErrInsufficientScope         = &Error{Code: CodeInsufficientScope}
	ErrNotAuthenticated          = &Error{Code: CodeNotAuthenticated}
	ErrUserInfoNotSupported      = &Error{Code: CodeUserInfoNotSupported}
	ErrUserInfoRequestFailed     = &Error{Code: CodeUserInfoRequestFailed}
	ErrUserInfoNetworkError      = &Error{Code: CodeUserInfoNetworkError}
	ErrTokenStoreFailed          = &Error{Code: CodeTokenStoreFailed}
	ErrTokenRetrieveFailed       = &Error{Code: CodeTokenRetrieveFailed}
	ErrTokenRemoveFailed         = &Error{Code: CodeTokenRemoveFailed}
	ErrTokenClearFailed          = &Error{Code: CodeTokenClearFailed}
	ErrTokenListFailed           = &Error{Code: CodeTokenListFailed}
	ErrEncryptionFailed          = &Error{Code: CodeEncryptionFailed}
	ErrDecryptionFailed          = &Error{Code: CodeDecryptionFailed}
	ErrTokenRefreshFailed        = &Error{Code: CodeTokenRefreshFailed}
	ErrTokenRefreshError         = &Error{Code: CodeTokenRefreshError}
	ErrTokenRefreshNetworkError  = &Error{Code: CodeTokenRefreshNetworkError}
	ErrInvalidToolDefinition     = &Error{Code: CodeInvalidToolDefinition}
)

// Error is the structured error returned across the module. Details never
// carry raw token values; use MaskToken before adding one.
type Error struct {
	Code       ErrorCode
	Message    string
	Provider   string
	StatusCode int
	Details    map[string]any
	Err        error
}

// NewError creates an Error of the given kind
func NewError(code ErrorCode, provider, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
	}
}

// WithCause sets the wrapped error
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithDetail adds one structured detail entry
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithStatus records the HTTP status associated with the failure
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (provider %q)", msg, e.Provider)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus returns the status to render for this error, defaulting to 400
func (e *Error) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode < 600 {
		return e.StatusCode
	}
	return http.StatusBadRequest
}

// CodeOf returns the code of the outermost *Error in err's chain
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
