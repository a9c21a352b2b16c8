package auth

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
)

func TestOAuthService_StartAuthorization(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	out, err := h.service.StartAuthorization(ctx, "https://app/cb")
	require.NoError(t, err)
	require.NotEmpty(t, out.State)
	require.Equal(t, h.now.UnixMilli(), out.CreationTime)

	u, err := url.Parse(out.AuthURL)
	require.NoError(t, err)
	require.Equal(t, out.State, u.Query().Get("state"))
	require.Equal(t, out.CodeChallenge, u.Query().Get("code_challenge"))
	require.Equal(t, "https://app/cb", u.Query().Get("redirect_uri"))

	stored, err := h.states.GetOAuthState(ctx, out.State)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, out.CodeVerifier, stored.CodeVerifier)
}

func TestOAuthService_HandleCallback(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	start, err := h.service.StartAuthorization(ctx, "")
	require.NoError(t, err)

	resp, err := h.service.HandleCallback(ctx, CallbackInput{Code: "auth-code", State: start.State})
	require.NoError(t, err)
	require.Equal(t, "tenant-access", resp.AccessToken)
	require.Equal(t, DefaultTenantURL, resp.TenantURL)
	require.Equal(t, DefaultTenantURL+"token", h.client.exchanges[0].tokenURL)
	require.Equal(t, start.CodeVerifier, h.client.exchanges[0].req.CodeVerifier)

	// the state is single use
	_, err = h.service.HandleCallback(ctx, CallbackInput{Code: "auth-code", State: start.State})
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
	require.Equal(t, 1, h.client.exchangeCount())
}

func TestOAuthService_HandleCallbackProviderError(t *testing.T) {
	h := newOAuthTestHarness(t)

	_, err := h.service.HandleCallback(context.Background(), CallbackInput{Error: "access_denied"})
	require.ErrorIs(t, err, domainoauth.ErrAuthorizationDenied)
	require.Contains(t, err.Error(), "access_denied: No description provided")

	_, err = h.service.HandleCallback(context.Background(), CallbackInput{Code: "c"})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}

func TestOAuthService_HandleCallbackExpiredState(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	start, err := h.service.StartAuthorization(ctx, "")
	require.NoError(t, err)

	h.now = h.now.Add(31 * time.Minute)
	_, err = h.service.HandleCallback(ctx, CallbackInput{Code: "c", State: start.State})
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
	require.Zero(t, h.client.exchangeCount())
}

func TestOAuthService_ExchangeCodeWithStoredState(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	start, err := h.service.StartAuthorization(ctx, "")
	require.NoError(t, err)

	input, _ := json.Marshal(domainoauth.CodeEnvelope{Code: "c", State: start.State, TenantURL: "https://d1.api.example/"})
	resp, err := h.service.ExchangeCode(ctx, ExchangeInput{CodeInput: string(input), State: start.State})
	require.NoError(t, err)
	require.Equal(t, "https://d1.api.example/", resp.TenantURL)

	stored, err := h.states.GetOAuthState(ctx, start.State)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestOAuthService_ExchangeCodeRejectsForgedState(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	start, err := h.service.StartAuthorization(ctx, "")
	require.NoError(t, err)

	input, _ := json.Marshal(domainoauth.CodeEnvelope{Code: "c", State: "forged", TenantURL: "https://t/"})
	_, err = h.service.ExchangeCode(ctx, ExchangeInput{CodeInput: string(input), State: start.State})
	require.ErrorIs(t, err, domainoauth.ErrStateMismatch)
	require.Zero(t, h.client.exchangeCount())

	_, err = h.service.ExchangeCode(ctx, ExchangeInput{CodeInput: "{}", State: "unknown"})
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
}

func TestOAuthService_ExchangeCodeWithClientStateHonoursMaxAge(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	input, _ := json.Marshal(domainoauth.CodeEnvelope{Code: "c", State: "s1", TenantURL: "https://t/"})
	state := &domainoauth.OAuthState{
		CodeVerifier:  "client-verifier",
		CodeChallenge: "challenge",
		State:         "s1",
		CreationTime:  h.now.Add(-31 * time.Minute).UnixMilli(),
	}
	_, err := h.service.ExchangeCode(ctx, ExchangeInput{CodeInput: string(input), State: "s1", OAuthState: state})
	require.ErrorIs(t, err, domainoauth.ErrStateExpired)
	require.Zero(t, h.client.exchangeCount())

	state.CreationTime = h.now.Add(-29 * time.Minute).UnixMilli()
	resp, err := h.service.ExchangeCode(ctx, ExchangeInput{CodeInput: string(input), State: "s1", OAuthState: state})
	require.NoError(t, err)
	require.Equal(t, "https://t/", resp.TenantURL)
	require.Equal(t, 1, h.client.exchangeCount())
}

func TestOAuthService_ValidateResponse(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	client := domainoauth.ClientState{
		CodeVerifier:  "client-verifier",
		CodeChallenge: "challenge",
		State:         "s1",
		CreationTime:  h.now.Add(-5 * time.Minute).UnixMilli(),
	}

	_, err := h.service.ValidateResponse(ctx, domainoauth.CodeEnvelope{Code: "c", State: "s2", TenantURL: "https://t/"}, client)
	require.ErrorIs(t, err, domainoauth.ErrStateMismatch)

	stale := client
	stale.CreationTime = h.now.Add(-31 * time.Minute).UnixMilli()
	_, err = h.service.ValidateResponse(ctx, domainoauth.CodeEnvelope{Code: "c", State: "s1", TenantURL: "https://t/"}, stale)
	require.ErrorIs(t, err, domainoauth.ErrStateExpired)
	require.Zero(t, h.client.exchangeCount())

	resp, err := h.service.ValidateResponse(ctx, domainoauth.CodeEnvelope{Code: "c", State: "s1", TenantURL: "https://t/"}, client)
	require.NoError(t, err)
	require.Equal(t, "tenant-access", resp.AccessToken)
	require.Equal(t, "client-verifier", h.client.exchanges[0].req.CodeVerifier)
}

func TestOAuthService_AccountStatusRequiresInputs(t *testing.T) {
	h := newOAuthTestHarness(t)
	_, err := h.service.AccountStatus(context.Background(), "", "https://t/")
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}
