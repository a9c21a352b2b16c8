package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
	"github.com/wellgone/augment-token-manager-worker/internal/repository"
)

const (
	statePrefix   = "oauth_state_"
	tempPrefix    = "oauth_temp_"
	sessionPrefix = "oauth_session_"

	DefaultStateTTL    = 10 * time.Minute
	DefaultStateMaxAge = 30 * time.Minute
	DefaultTempTTL     = 5 * time.Minute
	DefaultSessionTTL  = time.Hour
)

// KVStateStore implements OAuthStateStore on any KVStore.
type KVStateStore struct {
	kv     repository.KVStore
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger
}

var _ repository.OAuthStateStore = (*KVStateStore)(nil)

// StateStoreOption customizes a KVStateStore.
type StateStoreOption func(*KVStateStore)

// WithMaxAge overrides the absolute age limit checked on read.
func WithMaxAge(d time.Duration) StateStoreOption {
	return func(s *KVStateStore) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StateStoreOption {
	return func(s *KVStateStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewKVStateStore constructs a state store over kv.
func NewKVStateStore(kv repository.KVStore, logger *zap.Logger, opts ...StateStoreOption) *KVStateStore {
	s := &KVStateStore{
		kv:     kv,
		maxAge: DefaultStateMaxAge,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreOAuthState upserts the state payload with TTL.
func (s *KVStateStore) StoreOAuthState(ctx context.Context, stateKey string, state oauth.OAuthState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.kv.Put(ctx, statePrefix+stateKey, payload, ttl); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.log().Debug("oauth state stored",
		zap.String("state", stateKey),
		zap.Duration("ttl", ttl),
		zap.Int64("creation_time", state.CreationTime),
	)
	return nil
}

// GetOAuthState loads the state, discarding entries that are stale or unreadable.
func (s *KVStateStore) GetOAuthState(ctx context.Context, stateKey string) (*oauth.OAuthState, error) {
	raw, err := s.kv.Get(ctx, statePrefix+stateKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log().Debug("oauth state not found", zap.String("state", stateKey))
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	state, ok := s.decode(stateKey, raw)
	if !ok {
		s.deleteQuietly(ctx, stateKey)
		return nil, nil
	}
	return state, nil
}

// ConsumeOAuthState loads and removes the state. When the backend supports
// GetDel only one of two racing callers can observe the value.
func (s *KVStateStore) ConsumeOAuthState(ctx context.Context, stateKey string) (*oauth.OAuthState, error) {
	claimer, ok := s.kv.(repository.KVClaimer)
	if !ok {
		state, err := s.GetOAuthState(ctx, stateKey)
		if err != nil || state == nil {
			return state, err
		}
		return state, s.DeleteOAuthState(ctx, stateKey)
	}

	raw, err := claimer.GetDel(ctx, statePrefix+stateKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim state: %w", err)
	}
	state, ok := s.decode(stateKey, raw)
	if !ok {
		return nil, nil
	}
	return state, nil
}

// DeleteOAuthState removes the state key. Missing keys are not an error.
func (s *KVStateStore) DeleteOAuthState(ctx context.Context, stateKey string) error {
	if err := s.kv.Delete(ctx, statePrefix+stateKey); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// StoreTempData stores arbitrary JSON-encodable data.
func (s *KVStateStore) StoreTempData(ctx context.Context, key string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTempTTL
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal temp data: %w", err)
	}
	if err := s.kv.Put(ctx, tempPrefix+key, payload, ttl); err != nil {
		return fmt.Errorf("persist temp data: %w", err)
	}
	return nil
}

// GetTempData decodes stored data into out. It reports false for missing or
// malformed entries.
func (s *KVStateStore) GetTempData(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.kv.Get(ctx, tempPrefix+key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load temp data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.log().Warn("failed to parse temp data", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// DeleteTempData removes temp data.
func (s *KVStateStore) DeleteTempData(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, tempPrefix+key); err != nil {
		return fmt.Errorf("delete temp data: %w", err)
	}
	return nil
}

// StoreOAuthSession stores session data stamped with createdAt (epoch ms).
func (s *KVStateStore) StoreOAuthSession(ctx context.Context, sessionID string, data map[string]any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	stamped := make(map[string]any, len(data)+1)
	for k, v := range data {
		stamped[k] = v
	}
	stamped["createdAt"] = s.now().UnixMilli()
	payload, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("marshal oauth session: %w", err)
	}
	if err := s.kv.Put(ctx, sessionPrefix+sessionID, payload, ttl); err != nil {
		return fmt.Errorf("persist oauth session: %w", err)
	}
	return nil
}

// GetOAuthSession returns nil for missing or malformed sessions.
func (s *KVStateStore) GetOAuthSession(ctx context.Context, sessionID string) (map[string]any, error) {
	raw, err := s.kv.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load oauth session: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log().Warn("failed to parse oauth session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}
	return data, nil
}

// DeleteOAuthSession removes session data.
func (s *KVStateStore) DeleteOAuthSession(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, sessionPrefix+sessionID); err != nil {
		return fmt.Errorf("delete oauth session: %w", err)
	}
	return nil
}

func (s *KVStateStore) decode(stateKey string, raw []byte) (*oauth.OAuthState, bool) {
	var state oauth.OAuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log().Warn("failed to parse oauth state", zap.String("state", stateKey), zap.Error(err))
		return nil, false
	}
	age := s.now().UnixMilli() - state.CreationTime
	if age > s.maxAge.Milliseconds() {
		s.log().Info("oauth state expired (age check)",
			zap.String("state", stateKey),
			zap.Int64("age_ms", age),
			zap.Duration("max_age", s.maxAge),
		)
		return nil, false
	}
	return &state, true
}

func (s *KVStateStore) deleteQuietly(ctx context.Context, stateKey string) {
	if err := s.DeleteOAuthState(ctx, stateKey); err != nil {
		s.log().Warn("failed to delete oauth state", zap.String("state", stateKey), zap.Error(err))
	}
}

func (s *KVStateStore) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
