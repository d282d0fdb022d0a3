package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"stealth/internal/registry/models"
	"stealth/pkg/domain"
	"stealth/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func newEntry(handle string, address, authority domain.Identity) *models.Entry {
	return &models.Entry{
		Handle:      handle,
		Address:     address,
		Authority:   authority,
		Destination: authority,
		Bump:        255,
	}
}

// TestCreationAndLookups verifies the store creates and retrieves entries by address.
func (s *InMemoryStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds entry", func() {
		entry := newEntry("ariel", domain.Identity{1}, domain.Identity{10})
		s.Require().NoError(s.store.CreateIfAbsent(s.ctx, entry))

		found, err := s.store.FindByAddress(s.ctx, entry.Address)
		s.Require().NoError(err)
		s.Equal(*entry, *found)
	})

	s.Run("returns ErrNotFound for unknown address", func() {
		_, err := s.store.FindByAddress(s.ctx, domain.Identity{99})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned entries do not alias stored state", func() {
		entry := newEntry("alias", domain.Identity{2}, domain.Identity{10})
		s.Require().NoError(s.store.CreateIfAbsent(s.ctx, entry))
		entry.Authority = domain.Identity{66}

		found, err := s.store.FindByAddress(s.ctx, entry.Address)
		s.Require().NoError(err)
		found.Authority = domain.Identity{77}

		again, err := s.store.FindByAddress(s.ctx, entry.Address)
		s.Require().NoError(err)
		s.Equal(domain.Identity{10}, again.Authority)
	})
}

// TestFirstWriterWins verifies an occupied address is never overwritten.
func (s *InMemoryStoreSuite) TestFirstWriterWins() {
	first := newEntry("ariel", domain.Identity{1}, domain.Identity{10})
	second := newEntry("ariel", domain.Identity{1}, domain.Identity{20})

	s.Require().NoError(s.store.CreateIfAbsent(s.ctx, first))
	err := s.store.CreateIfAbsent(s.ctx, second)
	s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)

	found, err := s.store.FindByAddress(s.ctx, first.Address)
	s.Require().NoError(err)
	s.Equal(domain.Identity{10}, found.Authority)
}

// TestConcurrentCreate verifies exactly one of many racing creators succeeds.
func (s *InMemoryStoreSuite) TestConcurrentCreate() {
	const goroutines = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := range goroutines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.store.CreateIfAbsent(s.ctx, newEntry("race", domain.Identity{5}, domain.Identity{byte(i + 1)}))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
	count, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

// TestExecute verifies validate-then-mutate semantics.
func (s *InMemoryStoreSuite) TestExecute() {
	s.Run("applies mutation when validation passes", func() {
		entry := newEntry("exec_ok", domain.Identity{3}, domain.Identity{10})
		s.Require().NoError(s.store.CreateIfAbsent(s.ctx, entry))

		updated, err := s.store.Execute(s.ctx, entry.Address,
			func(e *models.Entry) error { return nil },
			func(e *models.Entry) { e.ApplyAuthorityTransfer(domain.Identity{11}) },
		)
		s.Require().NoError(err)
		s.Equal(domain.Identity{11}, updated.Authority)

		found, err := s.store.FindByAddress(s.ctx, entry.Address)
		s.Require().NoError(err)
		s.Equal(domain.Identity{11}, found.Authority)
		s.Equal(domain.Identity{10}, found.Destination)
	})

	s.Run("leaves entry unchanged when validation fails", func() {
		entry := newEntry("exec_fail", domain.Identity{4}, domain.Identity{10})
		s.Require().NoError(s.store.CreateIfAbsent(s.ctx, entry))
		denied := errors.New("denied")
		mutated := false

		_, err := s.store.Execute(s.ctx, entry.Address,
			func(e *models.Entry) error { return denied },
			func(e *models.Entry) { mutated = true },
		)
		s.Require().ErrorIs(err, denied)
		s.False(mutated)

		found, err := s.store.FindByAddress(s.ctx, entry.Address)
		s.Require().NoError(err)
		s.Equal(*entry, *found)
	})

	s.Run("returns ErrNotFound for unknown address", func() {
		_, err := s.store.Execute(s.ctx, domain.Identity{98},
			func(e *models.Entry) error { return nil },
			func(e *models.Entry) {},
		)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentExecuteIsSerialized verifies competing read-check-write
// transfers cannot both commit against the same authority.
func (s *InMemoryStoreSuite) TestConcurrentExecuteIsSerialized() {
	original := domain.Identity{10}
	entry := newEntry("contended", domain.Identity{6}, original)
	s.Require().NoError(s.store.CreateIfAbsent(s.ctx, entry))

	const goroutines = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := range goroutines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, entry.Address,
				func(e *models.Entry) error {
					if !e.IsAuthority(original) {
						return errors.New("stale authority")
					}
					return nil
				},
				func(e *models.Entry) { e.ApplyAuthorityTransfer(domain.Identity{byte(100 + i)}) },
			)
			if err == nil {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load(), "only one transfer may commit against the original authority")
}
