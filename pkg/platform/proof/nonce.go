package proof

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "stealth:proof:jti:"

// NonceStore remembers proof IDs until they expire so each proof is accepted
// once.
type NonceStore interface {
	// Claim records id until expiresAt. It reports false when id is already
	// recorded and has not expired.
	Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// InMemoryNonceStore keeps proof IDs for a single process.
type InMemoryNonceStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep int
	now       func() time.Time
}

const minSweep = 1024

// NewInMemoryNonceStore creates a store using now as its clock. A nil now
// means time.Now.
func NewInMemoryNonceStore(now func() time.Time) *InMemoryNonceStore {
	if now == nil {
		now = time.Now
	}
	return &InMemoryNonceStore{
		seen:      make(map[string]time.Time),
		nextSweep: minSweep,
		now:       now,
	}
}

func (s *InMemoryNonceStore) Claim(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[id] = expiresAt
	if len(s.seen) >= s.nextSweep {
		s.sweep(now)
	}
	return true, nil
}

// Len returns the number of recorded IDs, expired ones included until the
// next sweep.
func (s *InMemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// sweep drops expired IDs. Callers hold mu.
func (s *InMemoryNonceStore) sweep(now time.Time) {
	for id, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, id)
		}
	}
	s.nextSweep = max(minSweep, 2*len(s.seen))
}

// RedisNonceStore shares proof IDs across replicas.
type RedisNonceStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client, now: time.Now}
}

func (s *RedisNonceStore) Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, nonceKeyPrefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim proof id: %w", err)
	}
	return ok, nil
}

// PostgresNonceStore shares proof IDs across replicas backed by one database.
// Expired rows are taken over by a later claim and removed by Prune.
type PostgresNonceStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresNonceStore(db *sql.DB) *PostgresNonceStore {
	return &PostgresNonceStore{db: db, now: time.Now}
}

func (s *PostgresNonceStore) Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO proof_nonces (id, expires_at) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE proof_nonces.expires_at <= $3
	`, id, expiresAt, s.now())
	if err != nil {
		return false, fmt.Errorf("claim proof id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim proof id: %w", err)
	}
	return n == 1, nil
}

// Prune deletes expired IDs and returns how many were removed.
func (s *PostgresNonceStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proof_nonces WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("prune proof ids: %w", err)
	}
	return res.RowsAffected()
}

// RunPruner calls Prune every interval until ctx is done.
func (s *PostgresNonceStore) RunPruner(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.Prune(ctx); err != nil {
				logger.WarnContext(ctx, "prune proof ids failed", "error", err)
			} else if n > 0 {
				logger.DebugContext(ctx, "pruned proof ids", "count", n)
			}
		}
	}
}
