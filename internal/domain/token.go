package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrTokenNotFound is returned when no record exists for an id.
var ErrTokenNotFound = errors.New("token not found")

// TokenRecord is a stored third-party access token. BanStatus and PortalInfo
// hold JSON snapshots written by validation and portal refresh respectively.
type TokenRecord struct {
	ID          string `json:"id"`
	TenantURL   string `json:"tenant_url,omitempty"`
	AccessToken string `json:"access_token"`
	PortalURL   string `json:"portal_url,omitempty"`
	EmailNote   string `json:"email_note,omitempty"`
	BanStatus   string `json:"ban_status,omitempty"`
	PortalInfo  string `json:"portal_info,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	CreatedBy   string `json:"created_by"`
}

// BanState is the stored three-way classification.
type BanState string

const (
	BanNormal  BanState = "NORMAL"
	BanInvalid BanState = "INVALID"
	BanBanned  BanState = "BANNED"
)

// BanStatus is the snapshot serialized into TokenRecord.BanStatus.
type BanStatus struct {
	Status           BanState `json:"status"`
	Reason           string   `json:"reason"`
	ValidationStatus string   `json:"validation_status,omitempty"`
	ResponseCode     int      `json:"response_code,omitempty"`
	UpdatedAt        string   `json:"updated_at"`
}

// PortalInfo is the billing snapshot serialized into TokenRecord.PortalInfo.
type PortalInfo struct {
	CreditsBalance int    `json:"credits_balance"`
	IsActive       bool   `json:"is_active"`
	ExpiryDate     string `json:"expiry_date"`
}

// ParseBanStatus decodes the stored snapshot. Empty or unreadable values
// yield ok=false.
func (t TokenRecord) ParseBanStatus() (BanStatus, bool) {
	if t.BanStatus == "" {
		return BanStatus{}, false
	}
	var status BanStatus
	if err := json.Unmarshal([]byte(t.BanStatus), &status); err != nil {
		return BanStatus{}, false
	}
	return status, true
}

// Timestamp formats t the way records store times.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// CreateTokenInput holds caller-supplied fields for a new record.
type CreateTokenInput struct {
	TenantURL   string `json:"tenant_url"`
	AccessToken string `json:"access_token"`
	PortalURL   string `json:"portal_url"`
	EmailNote   string `json:"email_note"`
}

// UpdateTokenInput changes identity fields; nil means unchanged.
type UpdateTokenInput struct {
	TenantURL   *string `json:"tenant_url"`
	AccessToken *string `json:"access_token"`
	PortalURL   *string `json:"portal_url"`
	EmailNote   *string `json:"email_note"`
}

// ErrInvalidTokenInput marks caller input the token service rejects.
var ErrInvalidTokenInput = errors.New("invalid token input")

// Ban status reasons written by the service.
const (
	ReasonInitial          = "Initial state"
	ReasonValidationPassed = "Token validation successful"
)
