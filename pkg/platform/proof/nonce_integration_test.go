//go:build integration

package proof_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealth/pkg/platform/proof"
	"stealth/pkg/testutil/containers"
)

func claimOnceConcurrently(t *testing.T, store proof.NonceStore, id string) int32 {
	t.Helper()
	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(context.Background(), id, time.Now().Add(time.Minute))
			if err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	return claimed.Load()
}

func TestRedisNonceStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redis := containers.NewRedisContainer(t)
	store := proof.NewRedisNonceStore(redis.Client)

	t.Run("one concurrent claimant wins", func(t *testing.T) {
		assert.Equal(t, int32(1), claimOnceConcurrently(t, store, "subject:jti-1"))
	})

	t.Run("claim expires with the proof", func(t *testing.T) {
		ctx := context.Background()
		ok, err := store.Claim(ctx, "subject:jti-2", time.Now().Add(time.Second))
		require.NoError(t, err)
		require.True(t, ok)

		ttl, err := redis.Client.TTL(ctx, "stealth:proof:jti:subject:jti-2").Result()
		require.NoError(t, err)
		assert.Positive(t, ttl)
		assert.LessOrEqual(t, ttl, time.Second)
	})
}

func TestPostgresNonceStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	store := proof.NewPostgresNonceStore(pg.DB)

	t.Run("one concurrent claimant wins", func(t *testing.T) {
		assert.Equal(t, int32(1), claimOnceConcurrently(t, store, "subject:jti-1"))
	})

	t.Run("expired rows are taken over and pruned", func(t *testing.T) {
		ok, err := store.Claim(ctx, "subject:jti-2", time.Now().Add(-time.Second))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.Claim(ctx, "subject:jti-2", time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.Claim(ctx, "subject:jti-3", time.Now().Add(-time.Second))
		require.NoError(t, err)
		pruned, err := store.Prune(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)
	})
}
