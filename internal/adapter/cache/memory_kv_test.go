package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wellgone/augment-token-manager-worker/internal/repository"
)

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	t.Cleanup(kv.Stop)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, kv.Put(ctx, "k", []byte("v"), 0))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, kv.Put(ctx, "short", []byte("x"), 20*time.Millisecond))
	require.Eventually(t, func() bool {
		_, err := kv.Get(ctx, "short")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	got, err = kv.GetDel(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
	_, err = kv.GetDel(ctx, "k")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, kv.Delete(ctx, "never-set"))
}
