package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wellgone/augment-token-manager-worker/internal/domain"
)

const (
	requestIDKey = "request_id"
	sessionKey   = "session"
)

// SessionValidator resolves a bearer session id.
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Auth guards routes behind a dashboard session.
type Auth struct {
	Sessions SessionValidator
}

// RequireSession rejects requests without a live bearer session. Store
// failures surface as 500 rather than as an expired session.
func (m *Auth) RequireSession(c *gin.Context) {
	token, ok := BearerToken(c.Request)
	if !ok {
		abortUnauthorized(c, "Authentication required")
		return
	}
	sess, err := m.Sessions.Validate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			abortUnauthorized(c, "Invalid or expired session")
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"error":     "Session lookup failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

// CurrentSession returns the session attached by RequireSession.
func CurrentSession(c *gin.Context) (*domain.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := value.(*domain.Session)
	return sess, ok && sess != nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success":   false,
		"error":     msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
