package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wellgone/augment-token-manager-worker/internal/domain"
)

const (
	tokenKeyPrefix   = "token:"
	tokenIndexKey    = "token_index"
	sessionKeyPrefix = "session:"
)

// Compile-time interface assertions.
var (
	_ TokenRepository   = (*KVTokenRepo)(nil)
	_ SessionRepository = (*KVSessionRepo)(nil)
)

// KVTokenRepo implements TokenRepository on top of a KVStore. Records live
// under token:<id>; token_index keeps ids newest first because the store
// offers no prefix listing. Index changes are serialized in process and go
// through KVUpdater when the store provides it.
type KVTokenRepo struct {
	kv KVStore

	indexMu sync.Mutex
}

func NewKVTokenRepo(kv KVStore) *KVTokenRepo {
	return &KVTokenRepo{kv: kv}
}

func (r *KVTokenRepo) Create(ctx context.Context, token domain.TokenRecord) error {
	if err := r.Save(ctx, token); err != nil {
		return err
	}
	return r.updateIndex(ctx, func(ids []string) []string {
		if slices.Contains(ids, token.ID) {
			return ids
		}
		return append([]string{token.ID}, ids...)
	})
}

func (r *KVTokenRepo) Get(ctx context.Context, id string) (domain.TokenRecord, error) {
	raw, err := r.kv.Get(ctx, tokenKeyPrefix+id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.TokenRecord{}, domain.ErrTokenNotFound
		}
		return domain.TokenRecord{}, fmt.Errorf("get token: %w", err)
	}
	var token domain.TokenRecord
	if err := json.Unmarshal(raw, &token); err != nil {
		return domain.TokenRecord{}, fmt.Errorf("decode token %s: %w", id, err)
	}
	return token, nil
}

func (r *KVTokenRepo) Save(ctx context.Context, token domain.TokenRecord) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := r.kv.Put(ctx, tokenKeyPrefix+token.ID, payload, 0); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (r *KVTokenRepo) Delete(ctx context.Context, id string) error {
	if err := r.kv.Delete(ctx, tokenKeyPrefix+id); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return r.updateIndex(ctx, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(v string) bool { return v == id })
	})
}

func (r *KVTokenRepo) ListIDs(ctx context.Context) ([]string, error) {
	raw, err := r.kv.Get(ctx, tokenIndexKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load token index: %w", err)
	}
	return decodeIndex(raw)
}

func (r *KVTokenRepo) updateIndex(ctx context.Context, mutate func(ids []string) []string) error {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	apply := func(current []byte, found bool) ([]byte, error) {
		var ids []string
		if found {
			decoded, err := decodeIndex(current)
			if err != nil {
				return nil, err
			}
			ids = decoded
		}
		ids = mutate(ids)
		if ids == nil {
			ids = []string{}
		}
		payload, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("marshal token index: %w", err)
		}
		return payload, nil
	}

	if updater, ok := r.kv.(KVUpdater); ok {
		if err := updater.Update(ctx, tokenIndexKey, apply); err != nil {
			return fmt.Errorf("update token index: %w", err)
		}
		return nil
	}

	raw, err := r.kv.Get(ctx, tokenIndexKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load token index: %w", err)
	}
	payload, err := apply(raw, err == nil)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, tokenIndexKey, payload, 0); err != nil {
		return fmt.Errorf("persist token index: %w", err)
	}
	return nil
}

func decodeIndex(raw []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode token index: %w", err)
	}
	return ids, nil
}

// KVSessionRepo implements SessionRepository on top of a KVStore.
type KVSessionRepo struct {
	kv KVStore
}

func NewKVSessionRepo(kv KVStore) *KVSessionRepo {
	return &KVSessionRepo{kv: kv}
}

func (r *KVSessionRepo) Create(ctx context.Context, session domain.Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.kv.Put(ctx, sessionKeyPrefix+session.SessionID, payload, ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (r *KVSessionRepo) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	raw, err := r.kv.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *KVSessionRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.kv.Delete(ctx, sessionKeyPrefix+sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
