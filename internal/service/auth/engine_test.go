package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/tenant"
	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
	"github.com/wellgone/augment-token-manager-worker/internal/pkce"
)

func TestEngine_CreateOAuthState(t *testing.T) {
	h := newOAuthTestHarness(t)

	state, err := h.engine.CreateOAuthState()
	require.NoError(t, err)
	require.Len(t, state.CodeVerifier, 43)
	require.True(t, pkce.ValidateCodeVerifier(state.CodeVerifier))
	require.Equal(t, pkce.SHA256(state.CodeVerifier), state.CodeChallenge)
	require.Len(t, state.State, 11)
	require.Equal(t, h.now.UnixMilli(), state.CreationTime)

	other, err := h.engine.CreateOAuthState()
	require.NoError(t, err)
	require.NotEqual(t, state.State, other.State)
}

func TestEngine_GenerateAuthorizeURLGolden(t *testing.T) {
	engine := NewEngine(EngineConfig{}, &fakeTenantClient{}, zap.NewNop(),
		WithRandom(deterministicRandom()),
		WithClock(func() time.Time { return time.UnixMilli(0) }),
	)
	state, err := engine.CreateOAuthState()
	require.NoError(t, err)

	got := engine.GenerateAuthorizeURL(state, "https://app/cb")
	want := "https://auth.augmentcode.com/authorize" +
		"?response_type=code" +
		"&code_challenge=DwBzhbb51LfusnSGBa_hqYSgo7-j8BTQnip4TOnlzRo" +
		"&code_challenge_method=S256" +
		"&client_id=v" +
		"&state=__________8" +
		"&redirect_uri=https%3A%2F%2Fapp%2Fcb" +
		"&prompt=login"
	require.Equal(t, want, got)
}

func TestEngine_GenerateAuthorizeURLFormEncoding(t *testing.T) {
	h := newOAuthTestHarness(t)
	state := &domainoauth.OAuthState{CodeChallenge: "c", State: "s"}

	raw := h.engine.GenerateAuthorizeURL(state, "https://app/cb?next=a~b*c d")
	require.Contains(t, raw, "&redirect_uri=https%3A%2F%2Fapp%2Fcb%3Fnext%3Da%7Eb*c+d&")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "https://app/cb?next=a~b*c d", u.Query().Get("redirect_uri"))
}

func TestEngine_GenerateAuthorizeURLParameterOrder(t *testing.T) {
	h := newOAuthTestHarness(t)
	state, err := h.engine.CreateOAuthState()
	require.NoError(t, err)

	raw := h.engine.GenerateAuthorizeURL(state, "https://app/cb")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/authorize", u.Path)

	var keys []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		k, _, _ := strings.Cut(pair, "=")
		keys = append(keys, k)
	}
	require.Equal(t, []string{"response_type", "code_challenge", "code_challenge_method", "client_id", "state", "redirect_uri", "prompt"}, keys)
	require.Equal(t, []string{"S256"}, u.Query()["code_challenge_method"])
	require.Equal(t, state.CodeChallenge, u.Query().Get("code_challenge"))
}

func TestEngine_GetAccessTokenRequiresInputs(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	_, err := h.engine.GetAccessToken(ctx, "", "verifier", "code", "")
	require.ErrorIs(t, err, domainoauth.ErrTenantURLRequired)
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	_, err = h.engine.GetAccessToken(ctx, "https://t/", "", "code", "")
	require.ErrorIs(t, err, domainoauth.ErrCodeVerifierRequired)

	_, err = h.engine.GetAccessToken(ctx, "https://t/", "verifier", "", "")
	require.ErrorIs(t, err, domainoauth.ErrCodeRequired)

	require.Zero(t, h.client.exchangeCount())
}

func TestEngine_GetAccessTokenConcatenatesTenantURL(t *testing.T) {
	h := newOAuthTestHarness(t)

	resp, err := h.engine.GetAccessToken(context.Background(), "https://tenant.example/", "verifier", "code-1", "https://app/cb")
	require.NoError(t, err)
	require.Equal(t, "tenant-access", resp.AccessToken)
	require.Equal(t, "https://tenant.example/", resp.TenantURL)
	require.Equal(t, "user@example.com", resp.Email)

	require.Len(t, h.client.exchanges, 1)
	call := h.client.exchanges[0]
	require.Equal(t, "https://tenant.example/token", call.tokenURL)
	require.Equal(t, tenant.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "v",
		CodeVerifier: "verifier",
		RedirectURI:  "https://app/cb",
		Code:         "code-1",
	}, call.req)
}

func TestEngine_GetAccessTokenPropagatesUpstreamError(t *testing.T) {
	h := newOAuthTestHarness(t)
	h.client.exchErr = &domainoauth.UpstreamError{StatusCode: 400, StatusText: "Bad Request", Body: "invalid_grant"}

	_, err := h.engine.GetAccessToken(context.Background(), "https://t/", "verifier", "code", "")
	var upstream *domainoauth.UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, 400, upstream.StatusCode)
}

func TestEngine_CompleteOAuthFlow(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()
	state := &domainoauth.OAuthState{CodeVerifier: "verifier", State: "expected"}

	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", "raw-code", domainoauth.ErrMalformedCodeInput},
		{"state mismatch", `{"code":"c","state":"other","tenant_url":"https://t/"}`, domainoauth.ErrStateMismatch},
		{"missing state", `{"code":"c","tenant_url":"https://t/"}`, domainoauth.ErrStateMismatch},
		{"missing code", `{"state":"expected","tenant_url":"https://t/"}`, domainoauth.ErrMissingCode},
		{"missing tenant", `{"code":"c","state":"expected"}`, domainoauth.ErrMissingTenantURL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.CompleteOAuthFlow(ctx, state, tc.input, "")
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Zero(t, h.client.exchangeCount())

	resp, err := h.engine.CompleteOAuthFlow(ctx, state, `{"code":"c","state":"expected","tenant_url":"https://t/"}`, "")
	require.NoError(t, err)
	require.Equal(t, "https://t/", resp.TenantURL)
	require.Equal(t, "https://t/token", h.client.exchanges[0].tokenURL)
	require.Equal(t, "verifier", h.client.exchanges[0].req.CodeVerifier)
}

func TestEngine_CheckAccountStatus(t *testing.T) {
	h := newOAuthTestHarness(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		probe      tenant.ProbeResponse
		wantStatus domainoauth.AccountStatusValue
		wantBanned bool
	}{
		{"active", tenant.ProbeResponse{StatusCode: 200, Body: "{}"}, domainoauth.AccountActive, false},
		{"ok but suspended text", tenant.ProbeResponse{StatusCode: 200, Body: "account Suspended"}, domainoauth.AccountActive, false},
		{"suspended", tenant.ProbeResponse{StatusCode: 403, Body: "Your account is SUSPENDED"}, domainoauth.AccountSuspended, true},
		{"other error", tenant.ProbeResponse{StatusCode: 500, Body: "boom"}, domainoauth.AccountError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			probe := tc.probe
			h.client.probe = &probe
			status := h.engine.CheckAccountStatus(ctx, "tok", "https://t")
			require.Equal(t, tc.wantStatus, status.Status)
			require.Equal(t, tc.wantBanned, status.IsBanned)
			require.Equal(t, tc.probe.StatusCode, status.ResponseCode)
		})
	}

	h.client.probeErr = errors.New("dial tcp: connection refused")
	status := h.engine.CheckAccountStatus(ctx, "tok", "https://t")
	require.Equal(t, domainoauth.AccountError, status.Status)
	require.Equal(t, 0, status.ResponseCode)
	require.False(t, status.IsBanned)
	require.Contains(t, status.ErrorMessage, "connection refused")
}
