package service

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
	txcontext "stealth/pkg/platform/tx"
)

// RegistryStoreTx is the atomic unit a registry change and its compliance
// audit event are written in.
type RegistryStoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

const (
	numRegistryShards        = 64
	defaultRegistryTxTimeout = 5 * time.Second
)

// shardedRegistryTx serializes units touching the same address in process.
// The memory store is atomic per call; the shard lock keeps the audit trail
// for one entry in commit order.
type shardedRegistryTx struct {
	shards  [numRegistryShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedTx wraps the in-process memory store.
func NewShardedTx(store Store) RegistryStoreTx {
	return &shardedRegistryTx{store: store, timeout: defaultRegistryTxTimeout}
}

func (t *shardedRegistryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return t.locked(ctx, func(ctx context.Context) error {
		return fn(ctx, t.store)
	})
}

func (t *shardedRegistryTx) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

func (t *shardedRegistryTx) selectShard(ctx context.Context) int {
	address, ok := ctx.Value(txAddressKeyCtx).(domain.Identity)
	if !ok {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(address[:])
	return int(h.Sum32() % numRegistryShards)
}

// BatchStore is a Store that can group the writes of several calls into one
// optimistic transaction.
type BatchStore interface {
	Store
	RunInBatch(ctx context.Context, fn func(ctx context.Context) error) error
}

// redisRegistryTx commits the entry write and the audit stream append in one
// MULTI/EXEC. Under the shard lock only writers in other processes can force
// a retry.
type redisRegistryTx struct {
	sharded *shardedRegistryTx
	store   BatchStore
}

func NewRedisTx(store BatchStore) RegistryStoreTx {
	return &redisRegistryTx{
		sharded: &shardedRegistryTx{store: store, timeout: defaultRegistryTxTimeout},
		store:   store,
	}
}

func (t *redisRegistryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return t.sharded.locked(ctx, func(ctx context.Context) error {
		return t.store.RunInBatch(ctx, func(ctx context.Context) error {
			return fn(ctx, t.store)
		})
	})
}

// postgresRegistryTx runs fn inside one database transaction. Stores that
// resolve their connection through pkg/platform/tx join it, which is how the
// outbox row commits with the entry change.
type postgresRegistryTx struct {
	db    *sql.DB
	store Store
}

func NewPostgresTx(db *sql.DB, store Store) RegistryStoreTx {
	return &postgresRegistryTx{db: db, store: store}
}

func (t *postgresRegistryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registry transaction: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registry transaction: %w", err)
	}
	return nil
}

type txAddressKey struct{}

var txAddressKeyCtx = txAddressKey{}

func withTxAddress(ctx context.Context, address domain.Identity) context.Context {
	return context.WithValue(ctx, txAddressKeyCtx, address)
}
