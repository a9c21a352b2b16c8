package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
)

// maxBodyBytes bounds how much of an upstream reply is read into memory.
const maxBodyBytes = 1 << 20

// TokenRequest is the JSON body posted to {tenant}token.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	Code         string `json:"code"`
}

// ProbeResponse is the raw reply of the find-missing endpoint.
type ProbeResponse struct {
	URL        string
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       string
}

// OK reports whether the probe returned a 2xx status.
func (r *ProbeResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client performs outbound calls to a tenant API.
type Client interface {
	ExchangeCode(ctx context.Context, tokenURL string, req TokenRequest) (*domainoauth.TokenResponse, error)
	FindMissing(ctx context.Context, tenantURL, accessToken string) (*ProbeResponse, error)
}

// HTTPClient is the default HTTP implementation of Client.
type HTTPClient struct {
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default Client. Per-call deadlines come from ctx.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClient{httpClient: client}
}

// ExchangeCode posts the authorization code to tokenURL. A non-2xx reply
// yields *UpstreamError; a 2xx reply without access_token yields ErrNoAccessToken.
// TenantURL is left for the caller to fill.
func (c *HTTPClient) ExchangeCode(ctx context.Context, tokenURL string, in TokenRequest) (*domainoauth.TokenResponse, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domainoauth.UpstreamError{
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
			Body:       string(body),
		}
	}

	var raw struct {
		AccessToken string `json:"access_token"`
		Email       string `json:"email"`
		PortalURL   string `json:"portal_url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if raw.AccessToken == "" {
		return nil, domainoauth.ErrNoAccessToken
	}
	return &domainoauth.TokenResponse{
		AccessToken: raw.AccessToken,
		Email:       raw.Email,
		PortalURL:   raw.PortalURL,
	}, nil
}

// FindMissing posts an empty JSON object to {tenant}/find-missing with the
// bearer token. Any HTTP reply is returned as-is; only transport failures
// produce an error.
func (c *HTTPClient) FindMissing(ctx context.Context, tenantURL, accessToken string) (*ProbeResponse, error) {
	apiURL := NormalizeBaseURL(tenantURL) + "find-missing"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read probe response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return &ProbeResponse{
		URL:        apiURL,
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    headers,
		Body:       string(body),
	}, nil
}

// NormalizeBaseURL appends a trailing slash when missing.
func NormalizeBaseURL(tenantURL string) string {
	if strings.HasSuffix(tenantURL, "/") {
		return tenantURL
	}
	return tenantURL + "/"
}

// statusText strips the numeric prefix from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
