package store

import (
	"context"
	"fmt"
	"sync"

	"stealth/internal/registry/models"
	"stealth/pkg/domain"
	"stealth/pkg/platform/sentinel"
)

// InMemory keeps entries in a map keyed by derived address. A single RWMutex
// makes create-if-absent and Execute atomic with respect to each other.
type InMemory struct {
	mu      sync.RWMutex
	entries map[domain.Identity]*models.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[domain.Identity]*models.Entry)}
}

// CreateIfAbsent stores entry unless its address is already occupied.
func (s *InMemory) CreateIfAbsent(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Address]; ok {
		return fmt.Errorf("create entry %s: %w", entry.Handle, sentinel.ErrAlreadyUsed)
	}
	s.entries[entry.Address] = entry.Clone()
	return nil
}

func (s *InMemory) FindByAddress(_ context.Context, address domain.Identity) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return entry.Clone(), nil
}

// Execute runs validate then mutate on a copy of the entry while holding the
// write lock, and stores the copy only if validate succeeds.
func (s *InMemory) Execute(_ context.Context, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.entries[address] = working
	return working.Clone(), nil
}

// Count returns the number of stored entries.
func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
