package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"stealth/internal/registry/models"
	"stealth/pkg/domain"
	"stealth/pkg/platform/sentinel"
	txcontext "stealth/pkg/platform/tx"
)

var executeRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stealth_redis_execute_retries_total",
	Help: "Optimistic transaction retries caused by concurrent writers",
})

const (
	// Redis key prefix for registry entries, followed by the base58 address.
	entryKeyPrefix = "stealth:entry:"

	defaultMaxAttempts = 16
)

// RedisStore keeps binary-encoded entries under one key per address.
// Creation uses SETNX; Execute is an optimistic WATCH/MULTI transaction that
// is retried when another writer touches the key between read and write.
// Inside a txcontext.RedisBatch both calls watch the key and queue their write
// instead, and the batch owner commits and retries.
type RedisStore struct {
	client      *redis.Client
	maxAttempts int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithMaxAttempts bounds optimistic transaction attempts for Execute.
func WithMaxAttempts(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func entryKey(address domain.Identity) string {
	return entryKeyPrefix + address.String()
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, entry *models.Entry) error {
	data, err := entry.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := entryKey(entry.Address)
	if batch, ok := txcontext.RedisBatchFrom(ctx); ok {
		if err := batch.Tx().Watch(ctx, key).Err(); err != nil {
			return fmt.Errorf("watch entry: %w", err)
		}
		exists, err := batch.Tx().Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("create entry: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("create entry %s: %w", entry.Handle, sentinel.ErrAlreadyUsed)
		}
		batch.Queue(func(pipe redis.Pipeliner) {
			pipe.Set(ctx, key, data, 0)
		})
		return nil
	}
	created, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if !created {
		return fmt.Errorf("create entry %s: %w", entry.Handle, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *RedisStore) FindByAddress(ctx context.Context, address domain.Identity) (*models.Entry, error) {
	raw, err := s.client.Get(ctx, entryKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return decodeEntry(address, raw)
}

func (s *RedisStore) Execute(ctx context.Context, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	key := entryKey(address)
	if batch, ok := txcontext.RedisBatchFrom(ctx); ok {
		return s.executeInBatch(ctx, batch, address, validate, mutate)
	}
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		var result *models.Entry
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return sentinel.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("read entry: %w", err)
			}
			entry, err := decodeEntry(address, raw)
			if err != nil {
				return err
			}
			if err := validate(entry); err != nil {
				return err
			}
			mutate(entry)
			data, err := entry.MarshalBinary()
			if err != nil {
				return fmt.Errorf("encode entry: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			result = entry
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			executeRetries.Inc()
			if err := backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("execute entry after %d attempts: %w", s.maxAttempts, sentinel.ErrConflict)
}

func (s *RedisStore) executeInBatch(ctx context.Context, batch *txcontext.RedisBatch, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	key := entryKey(address)
	if err := batch.Tx().Watch(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("watch entry: %w", err)
	}
	raw, err := batch.Tx().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	entry, err := decodeEntry(address, raw)
	if err != nil {
		return nil, err
	}
	if err := validate(entry); err != nil {
		return nil, err
	}
	mutate(entry)
	data, err := entry.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	batch.Queue(func(pipe redis.Pipeliner) {
		pipe.Set(ctx, key, data, 0)
	})
	return entry, nil
}

// RunInBatch runs fn against a fresh txcontext.RedisBatch and commits the
// writes it queued. The whole of fn is retried when a watched key changed
// before EXEC, so fn must derive everything it writes from what it reads.
func (s *RedisStore) RunInBatch(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			batch := txcontext.NewRedisBatch(tx)
			if err := fn(txcontext.WithRedisBatch(ctx, batch)); err != nil {
				return err
			}
			return batch.Commit(ctx)
		})
		if errors.Is(err, redis.TxFailedErr) {
			executeRetries.Inc()
			if err := backoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		return err
	}
	return fmt.Errorf("redis batch after %d attempts: %w", s.maxAttempts, sentinel.ErrConflict)
}

// Count scans the entry keyspace. Intended for tests and admin tooling only.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, entryKeyPrefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("scan entries: %w", err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func decodeEntry(address domain.Identity, raw []byte) (*models.Entry, error) {
	entry := &models.Entry{Address: address}
	if err := entry.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode entry %s: %v: %w", address, err, sentinel.ErrCorrupt)
	}
	return entry, nil
}

func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
