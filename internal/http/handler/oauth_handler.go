package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
	authsvc "github.com/wellgone/augment-token-manager-worker/internal/service/auth"
)

// OAuthHandler exposes the PKCE flow over HTTP.
type OAuthHandler struct {
	OAuth  authsvc.OAuthService
	Logger *zap.Logger
}

func NewOAuthHandler(oauth authsvc.OAuthService, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{OAuth: oauth, Logger: logger}
}

// Authorize creates a state and returns the authorization URL with the PKCE
// tuple so clients may keep it themselves.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	start, err := h.OAuth.StartAuthorization(c.Request.Context(), strings.TrimSpace(c.Query("redirect_uri")))
	if err != nil {
		h.log().Error("generate authorization url failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to generate authorization URL: "+err.Error())
		return
	}
	respondOK(c, http.StatusOK, start, "Authorization URL generated successfully")
}

// Callback completes the flow from the provider redirect.
func (h *OAuthHandler) Callback(c *gin.Context) {
	result, err := h.OAuth.HandleCallback(c.Request.Context(), authsvc.CallbackInput{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	if err != nil {
		h.respondOAuthError(c, "OAuth callback processing failed", err)
		return
	}
	respondOK(c, http.StatusOK, result, "OAuth authorization completed successfully")
}

type tokenRequest struct {
	CodeInput  string                  `json:"code_input"`
	State      string                  `json:"state"`
	OAuthState *domainoauth.OAuthState `json:"oauth_state"`
}

// Token exchanges a JSON code envelope for an access token.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	result, err := h.OAuth.ExchangeCode(c.Request.Context(), authsvc.ExchangeInput{
		CodeInput:  req.CodeInput,
		State:      req.State,
		OAuthState: req.OAuthState,
	})
	if err != nil {
		h.respondOAuthError(c, "Token exchange failed", err)
		return
	}
	respondOK(c, http.StatusOK, result, "Token exchange completed successfully")
}

type statusRequest struct {
	Token     string `json:"token"`
	TenantURL string `json:"tenant_url"`
}

// Status probes an access token for suspension.
func (h *OAuthHandler) Status(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	status, err := h.OAuth.AccountStatus(c.Request.Context(), req.Token, req.TenantURL)
	if err != nil {
		h.respondOAuthError(c, "Account status check failed", err)
		return
	}
	respondOK(c, http.StatusOK, status, "Account status checked successfully")
}

type validateResponseRequest struct {
	AuthResponse *domainoauth.CodeEnvelope `json:"auth_response"`
	OAuthState   *domainoauth.ClientState  `json:"oauth_state"`
}

// ValidateResponse exchanges an authorization response against a PKCE tuple
// the client kept itself.
func (h *OAuthHandler) ValidateResponse(c *gin.Context) {
	var req validateResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AuthResponse == nil || req.OAuthState == nil {
		respondError(c, http.StatusBadRequest, "auth_response and oauth_state are required")
		return
	}
	result, err := h.OAuth.ValidateResponse(c.Request.Context(), *req.AuthResponse, *req.OAuthState)
	if err != nil {
		h.respondOAuthError(c, "Failed to obtain access token", err)
		return
	}
	respondOK(c, http.StatusOK, result, "Token exchange completed successfully")
}

// Health reports the OAuth module as alive.
func (h *OAuthHandler) Health(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": Timestamp(),
		"service":   "oauth-module",
		"version":   Version,
	}, "OAuth service is healthy")
}

func (h *OAuthHandler) respondOAuthError(c *gin.Context, prefix string, err error) {
	var upstream *domainoauth.UpstreamError
	switch {
	case errors.Is(err, domainoauth.ErrAuthorizationDenied),
		errors.Is(err, domainoauth.ErrInvalidRequest),
		errors.Is(err, domainoauth.ErrMalformedCodeInput),
		errors.Is(err, domainoauth.ErrStateMismatch),
		errors.Is(err, domainoauth.ErrStateExpired):
		h.log().Warn("oauth request rejected", zap.Error(err))
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domainoauth.ErrStateNotFound):
		h.log().Warn("oauth state missing", zap.Error(err))
		respondError(c, http.StatusBadRequest, "Invalid or expired state: OAuth state not found or has expired. Please restart the authorization process.")
	case errors.As(err, &upstream), errors.Is(err, domainoauth.ErrNoAccessToken):
		h.log().Warn("oauth upstream failure", zap.Error(err))
		respondError(c, http.StatusBadGateway, prefix+": "+err.Error())
	default:
		h.log().Error("oauth failure", zap.Error(err))
		respondError(c, http.StatusInternalServerError, prefix+": "+err.Error())
	}
}

func (h *OAuthHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
