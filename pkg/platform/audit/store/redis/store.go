// Package redis appends audit events to a capped Redis stream. Inside a
// registry transaction the XADD joins the entry write's MULTI/EXEC.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	audit "stealth/pkg/platform/audit"
	txcontext "stealth/pkg/platform/tx"
)

const (
	DefaultStream = "stealth:audit"
	DefaultMaxLen = 1_000_000
)

// Store implements audit.Store over a Redis stream. Each stream entry carries
// the event id, action, aggregate id and the JSON payload.
type Store struct {
	client *redis.Client
	stream string
	maxLen int64
}

type Option func(*Store)

func WithStream(stream string) Option {
	return func(s *Store) {
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream length. Trimming is approximate.
func WithMaxLen(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, stream: DefaultStream, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream returns the stream key events are appended to.
func (s *Store) Stream() string {
	return s.stream
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload := audit.NewPayload(uuid.NewString(), event)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, aggregateID := payload.AggregateKey()
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":           payload.ID,
			"action":       payload.Action,
			"aggregate_id": aggregateID,
			"payload":      body,
		},
	}

	if batch, ok := txcontext.RedisBatchFrom(ctx); ok {
		batch.Queue(func(pipe redis.Pipeliner) {
			pipe.XAdd(ctx, args)
		})
		return nil
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append audit stream: %w", err)
	}
	return nil
}
