package tx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBatch is one optimistic Redis transaction. Stores read through Tx after
// watching the keys they depend on and queue their writes; Commit sends every
// queued write in a single MULTI/EXEC, which fails with redis.TxFailedErr when
// a watched key changed.
type RedisBatch struct {
	tx     *redis.Tx
	writes []func(pipe redis.Pipeliner)
}

func NewRedisBatch(tx *redis.Tx) *RedisBatch {
	return &RedisBatch{tx: tx}
}

// Tx is the connection holding the WATCH state.
func (b *RedisBatch) Tx() *redis.Tx {
	return b.tx
}

// Queue adds a write to the batch.
func (b *RedisBatch) Queue(write func(pipe redis.Pipeliner)) {
	b.writes = append(b.writes, write)
}

func (b *RedisBatch) Len() int {
	return len(b.writes)
}

// Commit executes the queued writes atomically.
func (b *RedisBatch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	_, err := b.tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, write := range b.writes {
			write(pipe)
		}
		return nil
	})
	return err
}

type redisKey struct{}

var redisBatchKey = redisKey{}

// WithRedisBatch stores b in ctx. A nil batch returns ctx unchanged.
func WithRedisBatch(ctx context.Context, b *RedisBatch) context.Context {
	if b == nil {
		return ctx
	}
	return context.WithValue(ctx, redisBatchKey, b)
}

// RedisBatchFrom extracts the batch stored by WithRedisBatch.
func RedisBatchFrom(ctx context.Context) (*RedisBatch, bool) {
	b, ok := ctx.Value(redisBatchKey).(*RedisBatch)
	return b, ok && b != nil
}
