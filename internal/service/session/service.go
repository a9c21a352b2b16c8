// Package session authenticates dashboard users against the configured
// credential list and manages their server-side sessions.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/credential"
	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/repository"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingCredentials = errors.New("username and password are required")
)

// User is the public view of an authenticated account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginInput carries client metadata alongside the credentials.
type LoginInput struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	User         User          `json:"user"`
	SessionToken string        `json:"sessionToken"`
	ExpiresIn    string        `json:"expiresIn"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	TTL          time.Duration `json:"-"`
}

// Service issues and checks sessions.
type Service struct {
	creds  *credential.Store
	repo   repository.SessionRepository
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option customizes Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the session id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func NewService(creds *credential.Store, repo repository.SessionRepository, ttl time.Duration, logger *zap.Logger, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{
		creds:  creds,
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the credentials and stores a new session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, ErrMissingCredentials
	}

	role, ok := s.creds.Authenticate(username, in.Password)
	if !ok {
		s.log().Warn("login rejected", zap.String("username", username), zap.String("ip", in.IPAddress))
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := domain.Session{
		SessionID: s.newID(),
		UserID:    UserID(username),
		Username:  username,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}
	if err := s.repo.Create(ctx, sess, s.ttl); err != nil {
		return nil, err
	}

	s.log().Info("login succeeded", zap.String("user_id", sess.UserID), zap.String("role", role))
	return &LoginResult{
		User:         User{ID: sess.UserID, Username: username, Role: role},
		SessionToken: sess.SessionID,
		ExpiresIn:    formatTTL(s.ttl),
		ExpiresAt:    sess.ExpiresAt,
		TTL:          s.ttl,
	}, nil
}

// Validate returns the live session for id. Expired sessions are removed.
func (s *Service) Validate(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrSessionNotFound
	}
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		_ = s.repo.Delete(ctx, sessionID)
		return nil, domain.ErrSessionNotFound
	}
	return &sess, nil
}

// Logout deletes the session. Unknown ids are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.repo.Delete(ctx, sessionID)
}

// UserID derives the stable user id recorded as created_by.
func UserID(username string) string {
	return "user-" + username
}

// UserOf projects a session onto its public user view.
func UserOf(sess *domain.Session) User {
	return User{ID: sess.UserID, Username: sess.Username, Role: sess.Role}
}

func formatTTL(d time.Duration) string {
	if d%time.Hour == 0 {
		return strings.TrimSuffix(d.String(), "0m0s")
	}
	return d.String()
}

func (s *Service) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return zap.L()
}
