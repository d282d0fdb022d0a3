package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealth/internal/registry/store"
	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
)

func TestShardedTx(t *testing.T) {
	t.Run("cancelled context never runs fn", func(t *testing.T) {
		tx := NewShardedTx(store.NewInMemory())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := tx.RunInTx(ctx, func(context.Context, Store) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	t.Run("applies default deadline", func(t *testing.T) {
		tx := NewShardedTx(store.NewInMemory())
		err := tx.RunInTx(context.Background(), func(ctx context.Context, _ Store) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(defaultRegistryTxTimeout), deadline, time.Second)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("same address is serialized", func(t *testing.T) {
		tx := NewShardedTx(store.NewInMemory())
		ctx := withTxAddress(context.Background(), domain.Identity{7})

		var mu sync.Mutex
		inside, maxInside := 0, 0
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = tx.RunInTx(ctx, func(context.Context, Store) error {
					mu.Lock()
					inside++
					maxInside = max(maxInside, inside)
					mu.Unlock()
					time.Sleep(time.Millisecond)
					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxInside)
	})

	t.Run("shard depends only on address", func(t *testing.T) {
		sharded := NewShardedTx(store.NewInMemory()).(*shardedRegistryTx)
		a := withTxAddress(context.Background(), domain.Identity{1, 2, 3})
		b := withTxAddress(context.Background(), domain.Identity{1, 2, 3})
		assert.Equal(t, sharded.selectShard(a), sharded.selectShard(b))
		assert.Equal(t, 0, sharded.selectShard(context.Background()))
	})
}
