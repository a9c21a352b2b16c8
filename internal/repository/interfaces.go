package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/domain/oauth"
)

// ErrNotFound is returned by KVStore.Get for absent or expired keys.
var ErrNotFound = errors.New("kv: key not found")

// KVStore is the durable key-value collaborator. A zero ttl stores the key
// without expiration. Delete of a missing key is not an error.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// KVClaimer is implemented by stores that can read and remove a key atomically.
type KVClaimer interface {
	GetDel(ctx context.Context, key string) ([]byte, error)
}

// KVUpdater is implemented by stores that can apply a read-modify-write to a
// single key atomically, including against other processes sharing the
// store. fn receives the current value (nil when absent) and returns the new
// one, which is stored without expiration.
type KVUpdater interface {
	Update(ctx context.Context, key string, fn func(current []byte, found bool) ([]byte, error)) error
}

// OAuthStateStore persists in-flight authorization attempts and short-lived
// side-channel data. Readers get nil without error for missing, stale, or
// unreadable entries.
type OAuthStateStore interface {
	StoreOAuthState(ctx context.Context, stateKey string, state oauth.OAuthState, ttl time.Duration) error
	GetOAuthState(ctx context.Context, stateKey string) (*oauth.OAuthState, error)
	ConsumeOAuthState(ctx context.Context, stateKey string) (*oauth.OAuthState, error)
	DeleteOAuthState(ctx context.Context, stateKey string) error

	StoreTempData(ctx context.Context, key string, data any, ttl time.Duration) error
	GetTempData(ctx context.Context, key string, out any) (bool, error)
	DeleteTempData(ctx context.Context, key string) error

	StoreOAuthSession(ctx context.Context, sessionID string, data map[string]any, ttl time.Duration) error
	GetOAuthSession(ctx context.Context, sessionID string) (map[string]any, error)
	DeleteOAuthSession(ctx context.Context, sessionID string) error
}

// TokenRepository persists token records.
type TokenRepository interface {
	Create(ctx context.Context, token domain.TokenRecord) error
	Get(ctx context.Context, id string) (domain.TokenRecord, error)
	Save(ctx context.Context, token domain.TokenRecord) error
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
}

// SessionRepository stores admin login sessions.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
}
