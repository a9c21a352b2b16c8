package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/credential"
	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/service/tokens"
)

// TokenHandler serves the token record API. Non-admin users only see and
// act on records they created.
type TokenHandler struct {
	Tokens *tokens.Service
	Logger *zap.Logger
}

func NewTokenHandler(svc *tokens.Service, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{Tokens: svc, Logger: logger}
}

// List returns a page of records.
func (h *TokenHandler) List(c *gin.Context) {
	sess, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	page, err := queryInt(c, "page", 1)
	if err != nil || page < 1 {
		respondError(c, http.StatusBadRequest, "Page must be a positive integer")
		return
	}
	limit, err := queryInt(c, "limit", tokens.DefaultPageSize)
	if err != nil || limit < 1 || limit > tokens.MaxPageSize {
		respondError(c, http.StatusBadRequest, "Limit must be between 1 and 100")
		return
	}

	q := tokens.ListQuery{Page: page, Limit: limit, Search: strings.TrimSpace(c.Query("search"))}
	if !isAdmin(sess) {
		q.CreatedBy = sess.UserID
	}
	result, err := h.Tokens.List(c.Request.Context(), q)
	if err != nil {
		h.respondTokenError(c, "Failed to retrieve tokens", err)
		return
	}
	respondPage(c, result.Tokens, result.Page, result.Limit, result.Total)
}

// Create stores a new record owned by the caller.
func (h *TokenHandler) Create(c *gin.Context) {
	sess, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	var in domain.CreateTokenInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	record, err := h.Tokens.Create(c.Request.Context(), in, sess.UserID)
	if err != nil {
		h.respondTokenError(c, "Failed to create token", err)
		return
	}
	respondOK(c, http.StatusCreated, record, "Token saved successfully")
}

type batchImportRequest struct {
	Tokens []domain.CreateTokenInput `json:"tokens"`
}

// BatchImport creates many records at once.
func (h *TokenHandler) BatchImport(c *gin.Context) {
	sess, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req batchImportRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tokens == nil {
		respondError(c, http.StatusBadRequest, "Tokens array is required")
		return
	}
	result, err := h.Tokens.BatchImport(c.Request.Context(), req.Tokens, sess.UserID)
	if err != nil {
		h.respondTokenError(c, "Failed to import tokens", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"imported": len(result.Success),
		"failed":   len(result.Failed),
		"success":  result.Success,
		"errors":   result.Failed,
	}, "Batch import completed")
}

// Stats counts records by ban status.
func (h *TokenHandler) Stats(c *gin.Context) {
	sess, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	owner := ""
	if !isAdmin(sess) {
		owner = sess.UserID
	}
	stats, err := h.Tokens.Stats(c.Request.Context(), owner)
	if err != nil {
		h.respondTokenError(c, "Failed to get token statistics", err)
		return
	}
	respondOK(c, http.StatusOK, stats, "")
}

// Get returns one record.
func (h *TokenHandler) Get(c *gin.Context) {
	record, ok := h.loadOwned(c, "Failed to retrieve token")
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, record, "")
}

// Update changes identity fields of a record.
func (h *TokenHandler) Update(c *gin.Context) {
	record, ok := h.loadOwned(c, "Failed to update token")
	if !ok {
		return
	}
	var in domain.UpdateTokenInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	updated, err := h.Tokens.Update(c.Request.Context(), record.ID, in)
	if err != nil {
		h.respondTokenError(c, "Failed to update token", err)
		return
	}
	respondOK(c, http.StatusOK, updated, "Token updated successfully")
}

// Delete removes a record.
func (h *TokenHandler) Delete(c *gin.Context) {
	record, ok := h.loadOwned(c, "Failed to delete token")
	if !ok {
		return
	}
	if err := h.Tokens.Delete(c.Request.Context(), record.ID); err != nil {
		h.respondTokenError(c, "Failed to delete token", err)
		return
	}
	respondOK(c, http.StatusOK, nil, "Token deleted successfully")
}

// Validate probes one record and stores the new ban status.
func (h *TokenHandler) Validate(c *gin.Context) {
	record, ok := h.loadOwned(c, "Failed to validate token status")
	if !ok {
		return
	}
	outcome, err := h.Tokens.ValidateTokenStatus(c.Request.Context(), record.ID)
	if err != nil {
		h.respondTokenError(c, "Failed to validate token status", err)
		return
	}
	message := "Token is active"
	if !outcome.IsValid {
		message = "Token is no longer valid, status updated"
	}
	if outcome.Status == string(domain.StatusError) {
		message = "Token status could not be determined: " + outcome.Message
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      outcome.Token,
		"valid":     outcome.IsValid,
		"status":    outcome.Status,
		"message":   message,
		"timestamp": Timestamp(),
	})
}

type batchValidateRequest struct {
	TokenIDs []string `json:"tokenIds"`
}

// BatchValidate probes several records with bounded concurrency.
func (h *TokenHandler) BatchValidate(c *gin.Context) {
	sess, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req batchValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TokenIDs == nil {
		respondError(c, http.StatusBadRequest, "tokenIds array is required")
		return
	}
	if len(req.TokenIDs) > tokens.MaxBatchValidate {
		respondError(c, http.StatusBadRequest, "Maximum 50 tokens can be validated at once")
		return
	}

	if !isAdmin(sess) {
		for _, id := range req.TokenIDs {
			record, err := h.Tokens.Get(c.Request.Context(), id)
			if err != nil {
				continue
			}
			if record.CreatedBy != sess.UserID {
				respondError(c, http.StatusForbidden, "Access denied to some tokens")
				return
			}
		}
	}

	items, err := h.Tokens.ValidateTokensBatch(c.Request.Context(), req.TokenIDs)
	if err != nil {
		h.respondTokenError(c, "Failed to validate tokens", err)
		return
	}

	var valid, errored int
	for _, item := range items {
		if item.IsValid {
			valid++
		}
		if item.Error != "" {
			errored++
		}
	}
	respondOK(c, http.StatusOK, gin.H{
		"results": items,
		"summary": gin.H{
			"total":   len(items),
			"valid":   valid,
			"invalid": len(items) - valid,
			"errors":  errored,
		},
	}, "Batch validation completed")
}

// Refresh reloads billing data from the portal.
func (h *TokenHandler) Refresh(c *gin.Context) {
	record, ok := h.loadOwned(c, "Failed to refresh token")
	if !ok {
		return
	}
	refreshed, err := h.Tokens.RefreshTokenInfo(c.Request.Context(), record.ID)
	if err != nil {
		h.respondTokenError(c, "Failed to refresh token", err)
		return
	}
	respondOK(c, http.StatusOK, refreshed, "Token information refreshed")
}

// loadOwned resolves :id and enforces ownership. It writes the response and
// returns false when the request cannot proceed.
func (h *TokenHandler) loadOwned(c *gin.Context, failure string) (*domain.TokenRecord, bool) {
	sess, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, "Token ID is required")
		return nil, false
	}
	record, err := h.Tokens.Get(c.Request.Context(), id)
	if err != nil {
		h.respondTokenError(c, failure, err)
		return nil, false
	}
	if !isAdmin(sess) && record.CreatedBy != sess.UserID {
		respondError(c, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return record, true
}

func (h *TokenHandler) respondTokenError(c *gin.Context, failure string, err error) {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		respondError(c, http.StatusNotFound, "Token not found")
	case errors.Is(err, domain.ErrInvalidTokenInput):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		h.log().Error(failure, zap.Error(err))
		respondError(c, http.StatusInternalServerError, failure)
	}
}

func (h *TokenHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}

func isAdmin(sess *domain.Session) bool {
	return sess != nil && sess.Role == credential.RoleAdmin
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
