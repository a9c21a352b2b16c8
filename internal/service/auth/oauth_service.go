package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domainoauth "github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
	"github.com/wellgone/augment-token-manager-worker/internal/repository"
)

// DefaultTenantURL is used when the callback carries no tenant of its own.
const DefaultTenantURL = "https://api.augmentcode.com/"

// OAuthService orchestrates the flow engine and the state store for the
// HTTP layer.
type OAuthService interface {
	StartAuthorization(ctx context.Context, redirectURI string) (*domainoauth.AuthorizationStart, error)
	HandleCallback(ctx context.Context, in CallbackInput) (*domainoauth.TokenResponse, error)
	ExchangeCode(ctx context.Context, in ExchangeInput) (*domainoauth.TokenResponse, error)
	ValidateResponse(ctx context.Context, resp domainoauth.CodeEnvelope, client domainoauth.ClientState) (*domainoauth.TokenResponse, error)
	AccountStatus(ctx context.Context, token, tenantURL string) (domainoauth.AccountStatus, error)
}

// CallbackInput carries the provider redirect query parameters.
type CallbackInput struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ExchangeInput carries a JSON code envelope and its state. When OAuthState
// is set it is used instead of the stored attempt.
type ExchangeInput struct {
	CodeInput   string
	State       string
	OAuthState  *domainoauth.OAuthState
	RedirectURI string
}

// ServiceConfig tunes state persistence.
type ServiceConfig struct {
	StateTTL         time.Duration
	StateMaxAge      time.Duration
	DefaultTenantURL string
}

type oauthService struct {
	engine *Engine
	states repository.OAuthStateStore
	cfg    ServiceConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewOAuthService wires the OAuth orchestration.
func NewOAuthService(engine *Engine, states repository.OAuthStateStore, cfg ServiceConfig, logger *zap.Logger) OAuthService {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.StateMaxAge <= 0 {
		cfg.StateMaxAge = 30 * time.Minute
	}
	if strings.TrimSpace(cfg.DefaultTenantURL) == "" {
		cfg.DefaultTenantURL = DefaultTenantURL
	}
	return &oauthService{
		engine: engine,
		states: states,
		cfg:    cfg,
		now:    engine.now,
		logger: logger,
	}
}

func (s *oauthService) StartAuthorization(ctx context.Context, redirectURI string) (*domainoauth.AuthorizationStart, error) {
	state, err := s.engine.CreateOAuthState()
	if err != nil {
		return nil, fmt.Errorf("create oauth state: %w", err)
	}
	authURL := s.engine.GenerateAuthorizeURL(state, strings.TrimSpace(redirectURI))

	if err := s.states.StoreOAuthState(ctx, state.State, *state, s.cfg.StateTTL); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}

	s.log().Info("oauth authorization url generated",
		zap.String("state", state.State),
		zap.String("redirect_uri", redirectURI),
	)

	return &domainoauth.AuthorizationStart{
		AuthURL:       authURL,
		State:         state.State,
		CodeVerifier:  state.CodeVerifier,
		CodeChallenge: state.CodeChallenge,
		CreationTime:  state.CreationTime,
	}, nil
}

func (s *oauthService) HandleCallback(ctx context.Context, in CallbackInput) (*domainoauth.TokenResponse, error) {
	if in.Error != "" {
		desc := in.ErrorDescription
		if desc == "" {
			desc = "No description provided"
		}
		s.log().Warn("oauth provider returned error", zap.String("error", in.Error), zap.String("description", desc))
		return nil, fmt.Errorf("%w: %s: %s", domainoauth.ErrAuthorizationDenied, in.Error, desc)
	}
	if in.Code == "" || in.State == "" {
		return nil, fmt.Errorf("%w: both code and state parameters are required", domainoauth.ErrInvalidRequest)
	}

	state, err := s.states.ConsumeOAuthState(ctx, in.State)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		return nil, domainoauth.ErrStateNotFound
	}

	codeInput, err := json.Marshal(domainoauth.CodeEnvelope{
		Code:      in.Code,
		State:     in.State,
		TenantURL: s.cfg.DefaultTenantURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encode code envelope: %w", err)
	}

	result, err := s.engine.CompleteOAuthFlow(ctx, state, string(codeInput), "")
	if err != nil {
		return nil, err
	}
	s.log().Info("oauth callback processed",
		zap.String("state", in.State),
		zap.String("tenant_url", result.TenantURL),
		zap.Bool("has_token", result.AccessToken != ""),
	)
	return result, nil
}

func (s *oauthService) ExchangeCode(ctx context.Context, in ExchangeInput) (*domainoauth.TokenResponse, error) {
	if in.CodeInput == "" || in.State == "" {
		return nil, fmt.Errorf("%w: both code_input and state are required", domainoauth.ErrInvalidRequest)
	}

	state := in.OAuthState
	if state != nil {
		if err := s.checkStateAge(state.CreationTime); err != nil {
			return nil, err
		}
	} else {
		stored, err := s.states.ConsumeOAuthState(ctx, in.State)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if stored == nil {
			return nil, domainoauth.ErrStateNotFound
		}
		state = stored
	}

	result, err := s.engine.CompleteOAuthFlow(ctx, state, in.CodeInput, in.RedirectURI)
	if err != nil {
		return nil, err
	}

	if in.OAuthState != nil {
		if err := s.states.DeleteOAuthState(ctx, in.State); err != nil {
			s.log().Warn("failed to delete oauth state", zap.String("state", in.State), zap.Error(err))
		}
	}
	s.log().Info("token exchange completed",
		zap.String("state", in.State),
		zap.String("tenant_url", result.TenantURL),
	)
	return result, nil
}

func (s *oauthService) ValidateResponse(ctx context.Context, resp domainoauth.CodeEnvelope, client domainoauth.ClientState) (*domainoauth.TokenResponse, error) {
	if resp.State != client.State {
		s.log().Warn("oauth state mismatch",
			zap.String("response_state", resp.State),
			zap.String("client_state", client.State),
		)
		return nil, domainoauth.ErrStateMismatch
	}
	if err := s.checkStateAge(client.CreationTime); err != nil {
		return nil, err
	}

	codeInput, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode code envelope: %w", err)
	}
	state := client.OAuthState()
	return s.ExchangeCode(ctx, ExchangeInput{
		CodeInput:  string(codeInput),
		State:      client.State,
		OAuthState: &state,
	})
}

func (s *oauthService) AccountStatus(ctx context.Context, token, tenantURL string) (domainoauth.AccountStatus, error) {
	if token == "" || tenantURL == "" {
		return domainoauth.AccountStatus{}, fmt.Errorf("%w: both token and tenant_url are required", domainoauth.ErrInvalidRequest)
	}
	status := s.engine.CheckAccountStatus(ctx, token, tenantURL)
	s.log().Info("account status checked",
		zap.String("tenant_url", tenantURL),
		zap.String("status", string(status.Status)),
		zap.Bool("is_banned", status.IsBanned),
		zap.Int("response_code", status.ResponseCode),
	)
	return status, nil
}

// checkStateAge applies the absolute age limit to a state the caller kept
// client-side; stored states are aged by the state store.
func (s *oauthService) checkStateAge(creationTime int64) error {
	if s.now().UnixMilli()-creationTime > s.cfg.StateMaxAge.Milliseconds() {
		return domainoauth.ErrStateExpired
	}
	return nil
}

func (s *oauthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
