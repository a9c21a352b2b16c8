package oauth

// OAuthState captures the PKCE tuple persisted between the authorize redirect
// and the callback. CodeChallenge is always SHA-256(CodeVerifier).
type OAuthState struct {
	CodeVerifier  string `json:"codeVerifier"`
	CodeChallenge string `json:"codeChallenge"`
	State         string `json:"state"`
	CreationTime  int64  `json:"creationTime"`
}

// TokenResponse is the outcome of a successful code exchange. TenantURL is the
// API base used for every later call made with AccessToken.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TenantURL   string `json:"tenant_url"`
	Email       string `json:"email,omitempty"`
	PortalURL   string `json:"portal_url,omitempty"`
}

// CodeEnvelope is the JSON-encoded authorization response handed to the
// flow engine instead of a raw code.
type CodeEnvelope struct {
	Code      string `json:"code"`
	State     string `json:"state"`
	TenantURL string `json:"tenant_url"`
}

// AccountStatusValue enumerates CheckAccountStatus outcomes.
type AccountStatusValue string

const (
	AccountActive    AccountStatusValue = "ACTIVE"
	AccountSuspended AccountStatusValue = "SUSPENDED"
	AccountError     AccountStatusValue = "ERROR"
)

// AccountStatus is the result of a ban probe against the tenant API.
type AccountStatus struct {
	IsBanned     bool               `json:"is_banned"`
	Status       AccountStatusValue `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	ResponseCode int                `json:"response_code"`
	ResponseBody string             `json:"response_body"`
}

// AuthorizationStart is returned to the caller that requested an authorize URL.
type AuthorizationStart struct {
	AuthURL       string `json:"auth_url"`
	State         string `json:"state"`
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
	CreationTime  int64  `json:"creation_time"`
}

// ClientState is the PKCE tuple as echoed back by a front end that kept it
// client-side instead of relying on server storage.
type ClientState struct {
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
	State         string `json:"state"`
	CreationTime  int64  `json:"creation_time"`
}

// OAuthState converts the client echo into the stored representation.
func (c ClientState) OAuthState() OAuthState {
	return OAuthState{
		CodeVerifier:  c.CodeVerifier,
		CodeChallenge: c.CodeChallenge,
		State:         c.State,
		CreationTime:  c.CreationTime,
	}
}
