package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrMalformedCodeInput signals the code envelope is not valid JSON.
	ErrMalformedCodeInput = errors.New("oauth: invalid authorization code format - expected JSON")
	// ErrStateMismatch is returned when the callback state differs from the stored one.
	ErrStateMismatch = errors.New("oauth: state parameter mismatch - possible CSRF attack")
	// ErrStateNotFound covers missing, expired by TTL, or unreadable state.
	ErrStateNotFound = errors.New("oauth: state not found or has expired")
	// ErrStateExpired is returned when the state outlived the absolute age limit.
	ErrStateExpired = errors.New("oauth: state has expired")
	// ErrNoAccessToken is returned for a 2xx token response without access_token.
	ErrNoAccessToken = errors.New("oauth: no access token in response")
	// ErrAuthorizationDenied wraps an error reported by the provider on callback.
	ErrAuthorizationDenied = errors.New("oauth: authorization failed")
)

// Input errors reported before any network call.
var (
	ErrTenantURLRequired    = fmt.Errorf("%w: tenant URL is required", ErrInvalidRequest)
	ErrCodeVerifierRequired = fmt.Errorf("%w: code verifier is required", ErrInvalidRequest)
	ErrCodeRequired         = fmt.Errorf("%w: authorization code is required", ErrInvalidRequest)
	ErrMissingCode          = fmt.Errorf("%w: missing authorization code", ErrInvalidRequest)
	ErrMissingTenantURL     = fmt.Errorf("%w: missing tenant URL", ErrInvalidRequest)
	ErrMissingState         = fmt.Errorf("%w: missing state", ErrInvalidRequest)
)

// UpstreamError carries a non-2xx reply from the tenant token endpoint.
type UpstreamError struct {
	StatusCode int
	StatusText string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("token request failed: %d %s - %s", e.StatusCode, e.StatusText, e.Body)
}
