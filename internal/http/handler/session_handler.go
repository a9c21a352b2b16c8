package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/http/middleware"
	"github.com/wellgone/augment-token-manager-worker/internal/service/session"
)

// SessionService is the login surface used by SessionHandler.
type SessionService interface {
	Login(ctx context.Context, in session.LoginInput) (*session.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
}

// SessionHandler serves dashboard login endpoints.
type SessionHandler struct {
	Sessions SessionService
	Logger   *zap.Logger
}

func NewSessionHandler(sessions *session.Service, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{Sessions: sessions, Logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a bearer session token.
func (h *SessionHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.Sessions.Login(c.Request.Context(), session.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	switch {
	case errors.Is(err, session.ErrMissingCredentials):
		respondError(c, http.StatusBadRequest, "Username and password are required")
		return
	case errors.Is(err, session.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		h.log().Error("login failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondOK(c, http.StatusOK, res, "Login successful")
}

// Logout revokes the caller's session.
func (h *SessionHandler) Logout(c *gin.Context) {
	token, _ := middleware.BearerToken(c.Request)
	if err := h.Sessions.Logout(c.Request.Context(), token); err != nil {
		h.log().Error("logout failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondOK(c, http.StatusOK, nil, "Logged out successfully")
}

// Validate reports the session attached by the auth middleware.
func (h *SessionHandler) Validate(c *gin.Context) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Invalid token")
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"valid":   true,
		"user":    session.UserOf(sess),
		"session": gin.H{"sessionId": sess.SessionID},
	}, "")
}

func (h *SessionHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}

func currentUser(c *gin.Context) (*domain.Session, bool) {
	return middleware.CurrentSession(c)
}
