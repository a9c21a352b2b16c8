package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/wellgone/augment-token-manager-worker/internal/repository"
)

// MemoryKV is an in-process KVStore with per-key expiry.
type MemoryKV struct {
	cache *ttlcache.Cache[string, []byte]

	// serializes Update; plain Put/Delete stay lock free
	updateMu sync.Mutex
}

var (
	_ repository.KVStore   = (*MemoryKV)(nil)
	_ repository.KVClaimer = (*MemoryKV)(nil)
	_ repository.KVUpdater = (*MemoryKV)(nil)
)

// NewMemoryKV creates the store and starts its expiry loop. Call Stop to
// release the background goroutine.
func NewMemoryKV() *MemoryKV {
	c := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go c.Start()
	return &MemoryKV{cache: c}
}

// Stop halts the expiry loop.
func (s *MemoryKV) Stop() {
	s.cache.Stop()
}

func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, repository.ErrNotFound
	}
	return cloneBytes(item.Value()), nil
}

func (s *MemoryKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.cache.Set(key, cloneBytes(value), ttl)
	return nil
}

func (s *MemoryKV) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *MemoryKV) GetDel(_ context.Context, key string) ([]byte, error) {
	item, ok := s.cache.GetAndDelete(key)
	if !ok || item == nil || item.IsExpired() {
		return nil, repository.ErrNotFound
	}
	return cloneBytes(item.Value()), nil
}

func (s *MemoryKV) Update(ctx context.Context, key string, fn func(current []byte, found bool) ([]byte, error)) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	current, err := s.Get(ctx, key)
	found := err == nil
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	s.cache.Set(key, cloneBytes(next), ttlcache.NoTTL)
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
