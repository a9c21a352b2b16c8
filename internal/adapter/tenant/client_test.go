package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
)

func TestHTTPClient_ExchangeCode(t *testing.T) {
	var got TokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","email":"u@example.com","portal_url":"https://portal/view?token=p"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.Client())
	resp, err := client.ExchangeCode(context.Background(), srv.URL+"/token", TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "v",
		CodeVerifier: "verifier",
		RedirectURI:  "",
		Code:         "code-1",
	})
	require.NoError(t, err)
	require.Equal(t, "at-1", resp.AccessToken)
	require.Equal(t, "u@example.com", resp.Email)
	require.Equal(t, "https://portal/view?token=p", resp.PortalURL)
	require.Equal(t, "authorization_code", got.GrantType)
	require.Equal(t, "code-1", got.Code)
	require.Equal(t, "verifier", got.CodeVerifier)
}

func TestHTTPClient_ExchangeCodeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_grant"))
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPClient(srv.Client()).ExchangeCode(context.Background(), srv.URL+"/token", TokenRequest{Code: "c"})
	var upstream *domainoauth.UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	require.Equal(t, "Bad Request", upstream.StatusText)
	require.Equal(t, "invalid_grant", upstream.Body)
	require.Equal(t, "token request failed: 400 Bad Request - invalid_grant", err.Error())
}

func TestHTTPClient_ExchangeCodeMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email":"x"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPClient(srv.Client()).ExchangeCode(context.Background(), srv.URL+"/token", TokenRequest{Code: "c"})
	require.ErrorIs(t, err, domainoauth.ErrNoAccessToken)
}

func TestHTTPClient_FindMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/find-missing", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{}`, string(body))
		w.Header().Set("X-Trace", "abc")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)

	resp, err := NewHTTPClient(srv.Client()).FindMissing(context.Background(), srv.URL+"/api", "tok")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/api/find-missing", resp.URL)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "Forbidden", resp.StatusText)
	require.Equal(t, "nope", resp.Body)
	require.Equal(t, "abc", resp.Headers["x-trace"])
	require.False(t, resp.OK())
}

func TestNormalizeBaseURL(t *testing.T) {
	require.Equal(t, "https://t/", NormalizeBaseURL("https://t"))
	require.Equal(t, "https://t/", NormalizeBaseURL("https://t/"))
}
