package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/tenant"
	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
	"github.com/wellgone/augment-token-manager-worker/internal/metrics"
	"github.com/wellgone/augment-token-manager-worker/internal/pkce"
	"github.com/wellgone/augment-token-manager-worker/internal/telemetry"
)

const (
	DefaultClientID    = "v"
	DefaultAuthBaseURL = "https://auth.augmentcode.com"
)

// EngineConfig holds the fixed client registration.
type EngineConfig struct {
	ClientID    string
	AuthBaseURL string
	RedirectURI string
}

// Engine drives the PKCE authorization-code flow against a tenant.
type Engine struct {
	cfg     EngineConfig
	gen     pkce.Generator
	now     func() time.Time
	client  tenant.Client
	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithRandom replaces the randomness source.
func WithRandom(r io.Reader) EngineOption {
	return func(e *Engine) { e.gen = pkce.Generator{Rand: r} }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer sets the tracer used for exchange spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics records exchange outcomes.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs the flow engine.
func NewEngine(cfg EngineConfig, client tenant.Client, logger *zap.Logger, opts ...EngineOption) *Engine {
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = DefaultClientID
	}
	cfg.AuthBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AuthBaseURL), "/")
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DefaultAuthBaseURL
	}
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		client: client,
		tracer: otel.Tracer(telemetry.InstrumentationName),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOAuthState generates a fresh PKCE tuple. It has no side effects
// beyond consuming randomness.
func (e *Engine) CreateOAuthState() (*domainoauth.OAuthState, error) {
	verifier, err := e.gen.CodeVerifier()
	if err != nil {
		return nil, err
	}
	state, err := e.gen.State()
	if err != nil {
		return nil, err
	}
	return &domainoauth.OAuthState{
		CodeVerifier:  verifier,
		CodeChallenge: pkce.CodeChallenge(verifier),
		State:         state,
		CreationTime:  e.now().UnixMilli(),
	}, nil
}

// GenerateAuthorizeURL builds the /authorize URL. The query keeps a fixed
// parameter order, which url.Values.Encode would sort.
func (e *Engine) GenerateAuthorizeURL(state *domainoauth.OAuthState, redirectURI string) string {
	if redirectURI == "" {
		redirectURI = e.cfg.RedirectURI
	}
	params := [][2]string{
		{"response_type", "code"},
		{"code_challenge", state.CodeChallenge},
		{"code_challenge_method", "S256"},
		{"client_id", e.cfg.ClientID},
		{"state", state.State},
		{"redirect_uri", redirectURI},
		{"prompt", "login"},
	}
	var b strings.Builder
	b.WriteString(e.cfg.AuthBaseURL)
	b.WriteString("/authorize?")
	for i, kv := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(formEscape(kv[0]))
		b.WriteByte('=')
		b.WriteString(formEscape(kv[1]))
	}
	return b.String()
}

// formEscape applies the WHATWG application/x-www-form-urlencoded byte set:
// unlike url.QueryEscape it keeps '*' literal and percent-encodes '~'.
func formEscape(s string) string {
	escaped := url.QueryEscape(s)
	if !strings.ContainsAny(s, "*~") {
		return escaped
	}
	return strings.NewReplacer("%2A", "*", "~", "%7E").Replace(escaped)
}

// GetAccessToken exchanges code for an access token at tenantURL+"token".
// tenantURL must already end with a slash.
func (e *Engine) GetAccessToken(ctx context.Context, tenantURL, codeVerifier, code, redirectURI string) (*domainoauth.TokenResponse, error) {
	switch {
	case tenantURL == "":
		return nil, domainoauth.ErrTenantURLRequired
	case codeVerifier == "":
		return nil, domainoauth.ErrCodeVerifierRequired
	case code == "":
		return nil, domainoauth.ErrCodeRequired
	}
	if redirectURI == "" {
		redirectURI = e.cfg.RedirectURI
	}

	tokenURL := tenantURL + "token"
	ctx, span := e.tracer.Start(ctx, "oauth.exchange_code", trace.WithAttributes(
		attribute.String("oauth.token_url", tokenURL),
		attribute.String("oauth.client_id", e.cfg.ClientID),
	))
	defer span.End()

	e.log().Debug("oauth token exchange request",
		zap.String("url", tokenURL),
		zap.Int("code_length", len(code)),
		zap.Int("verifier_length", len(codeVerifier)),
	)

	resp, err := e.client.ExchangeCode(ctx, tokenURL, tenant.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     e.cfg.ClientID,
		CodeVerifier: codeVerifier,
		RedirectURI:  redirectURI,
		Code:         code,
	})
	if err != nil {
		e.metrics.ObserveExchange("failure")
		telemetry.Fail(span, err)
		var upstream *domainoauth.UpstreamError
		if errors.As(err, &upstream) {
			span.SetAttributes(attribute.Int("http.response.status_code", upstream.StatusCode))
			e.log().Warn("token exchange rejected",
				zap.Int("status", upstream.StatusCode),
				zap.String("status_text", upstream.StatusText),
				zap.String("body", upstream.Body),
			)
		}
		return nil, err
	}
	e.metrics.ObserveExchange("success")

	resp.TenantURL = tenantURL
	return resp, nil
}

// CompleteOAuthFlow decodes the JSON code envelope, verifies its state
// against the stored attempt and performs the exchange.
func (e *Engine) CompleteOAuthFlow(ctx context.Context, state *domainoauth.OAuthState, codeInput, redirectURI string) (*domainoauth.TokenResponse, error) {
	if state == nil {
		return nil, domainoauth.ErrStateNotFound
	}
	var envelope domainoauth.CodeEnvelope
	if err := json.Unmarshal([]byte(codeInput), &envelope); err != nil {
		return nil, domainoauth.ErrMalformedCodeInput
	}
	if envelope.State != state.State {
		return nil, domainoauth.ErrStateMismatch
	}
	if envelope.Code == "" {
		return nil, domainoauth.ErrMissingCode
	}
	if envelope.TenantURL == "" {
		return nil, domainoauth.ErrMissingTenantURL
	}
	return e.GetAccessToken(ctx, envelope.TenantURL, state.CodeVerifier, envelope.Code, redirectURI)
}

// CheckAccountStatus probes the tenant with token. Failures are reported in
// the returned status, never as an error.
func (e *Engine) CheckAccountStatus(ctx context.Context, token, tenantURL string) domainoauth.AccountStatus {
	resp, err := e.client.FindMissing(ctx, tenantURL, token)
	if err != nil {
		return domainoauth.AccountStatus{
			Status:       domainoauth.AccountError,
			ErrorMessage: err.Error(),
		}
	}

	suspended := strings.Contains(strings.ToLower(resp.Body), "suspended")
	out := domainoauth.AccountStatus{
		IsBanned:     resp.StatusCode != 200 && suspended,
		ResponseCode: resp.StatusCode,
		ResponseBody: resp.Body,
	}
	switch {
	case resp.OK():
		out.Status = domainoauth.AccountActive
	case suspended:
		out.Status = domainoauth.AccountSuspended
	default:
		out.Status = domainoauth.AccountError
	}
	if !resp.OK() {
		out.ErrorMessage = resp.Body
	}
	return out
}

func (e *Engine) log() *zap.Logger {
	if e != nil && e.logger != nil {
		return e.logger
	}
	return zap.L()
}
