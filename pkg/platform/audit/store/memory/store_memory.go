package memory

import (
	"context"
	"sync"

	audit "stealth/pkg/platform/audit"
)

// DefaultCapacity bounds the store when no capacity is configured.
const DefaultCapacity = 10_000

// InMemoryStore keeps the most recent audit events in process. When full, the
// oldest event is dropped and counted. Used by the memory registry backend
// and by tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  []audit.Event
	head    int
	count   int
	dropped int64
}

type Option func(*InMemoryStore)

// WithCapacity sets how many events are kept. Non-positive values keep the
// default.
func WithCapacity(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.events = make([]audit.Event, n)
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = make([]audit.Event, DefaultCapacity)
	}
	return s
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.events)
	s.head, s.count = 0, 0
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := len(s.events)
	if s.count == capacity {
		s.events[s.head] = event
		s.head = (s.head + 1) % capacity
		s.dropped++
		return nil
	}
	s.events[(s.head+s.count)%capacity] = event
	s.count++
	return nil
}

// Dropped returns how many events were evicted to stay within capacity.
func (s *InMemoryStore) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// ordered copies the kept events oldest first. Callers hold mu.
func (s *InMemoryStore) ordered() []audit.Event {
	out := make([]audit.Event, s.count)
	for i := range s.count {
		out[i] = s.events[(s.head+i)%len(s.events)]
	}
	return out
}

// ListByHandle returns events for one handle in append order.
func (s *InMemoryStore) ListByHandle(_ context.Context, handle string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.ordered() {
		if e.Handle == handle {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordered(), nil
}

// ListRecent returns the last limit events, most recent last.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ordered()
	return all[max(len(all)-limit, 0):], nil
}
