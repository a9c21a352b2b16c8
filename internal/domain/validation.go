package domain

// ValidationStatus is the closed set of token probe outcomes.
type ValidationStatus string

const (
	StatusActive       ValidationStatus = "ACTIVE"
	StatusUnauthorized ValidationStatus = "UNAUTHORIZED"
	StatusForbidden    ValidationStatus = "FORBIDDEN"
	StatusSuspended    ValidationStatus = "SUSPENDED"
	StatusRateLimited  ValidationStatus = "RATE_LIMITED"
	StatusServerError  ValidationStatus = "SERVER_ERROR"
	StatusInvalidToken ValidationStatus = "INVALID_TOKEN"
	StatusUnknownError ValidationStatus = "UNKNOWN_ERROR"
	StatusError        ValidationStatus = "ERROR"
)

// TokenValidationResult classifies a token against the tenant API.
type TokenValidationResult struct {
	IsValid      bool             `json:"is_valid"`
	IsBanned     bool             `json:"is_banned"`
	Status       ValidationStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ResponseCode int              `json:"response_code"`
	ResponseBody string           `json:"response_body"`
	DebugInfo    *DebugInfo       `json:"debug_info,omitempty"`
}

// DebugInfo captures the probe exchange when debug mode is enabled.
type DebugInfo struct {
	RequestURL         string            `json:"request_url"`
	RequestHeaders     map[string]string `json:"request_headers"`
	RequestBody        string            `json:"request_body"`
	ResponseHeaders    map[string]string `json:"response_headers"`
	ResponseBody       string            `json:"response_body"`
	ResponseStatusText string            `json:"response_status_text"`
}

// BanState maps a probe result onto the stored enumeration.
func (r TokenValidationResult) BanState() BanState {
	switch {
	case r.IsBanned:
		return BanBanned
	case r.IsValid:
		return BanNormal
	default:
		return BanInvalid
	}
}

// QuickCheckResult is the non-throwing summary of a probe.
type QuickCheckResult struct {
	IsValid  bool             `json:"isValid"`
	IsBanned bool             `json:"isBanned"`
	Status   ValidationStatus `json:"status"`
}
