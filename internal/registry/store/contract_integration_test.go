//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/suite"

	"stealth/internal/registry/models"
	"stealth/pkg/domain"
	"stealth/pkg/platform/sentinel"
)

// registryStore is the behaviour every backend shares.
type registryStore interface {
	CreateIfAbsent(ctx context.Context, entry *models.Entry) error
	FindByAddress(ctx context.Context, address domain.Identity) (*models.Entry, error)
	Execute(ctx context.Context, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error)
	Count(ctx context.Context) (int, error)
}

var errNotAuthority = errors.New("not authority")

// storeContract runs the same concurrency checks against each backend.
type storeContract struct {
	suite.Suite
	store registryStore
}

func newEntry(handle string, address, authority domain.Identity) *models.Entry {
	return &models.Entry{
		Handle:      handle,
		Address:     address,
		Authority:   authority,
		Destination: authority,
		Bump:        253,
	}
}

func (s *storeContract) TestRoundTrip() {
	ctx := context.Background()
	entry := newEntry("ariel", domain.Identity{1}, domain.Identity{10})
	entry.Destination = domain.Identity{11}

	s.Require().NoError(s.store.CreateIfAbsent(ctx, entry))
	found, err := s.store.FindByAddress(ctx, entry.Address)
	s.Require().NoError(err)
	s.Equal(*entry, *found)

	_, err = s.store.FindByAddress(ctx, domain.Identity{99})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentCreateFirstWriterWins verifies exactly one of many creators
// of the same address succeeds and the winner's authority is kept.
func (s *storeContract) TestConcurrentCreateFirstWriterWins() {
	ctx := context.Background()
	address := domain.Identity{2}
	const goroutines = 32

	var wg sync.WaitGroup
	var successes, conflicts atomic.Int32
	winners := make(chan domain.Identity, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			authority := domain.Identity{byte(100 + i)}
			err := s.store.CreateIfAbsent(ctx, newEntry("contested", address, authority))
			switch {
			case err == nil:
				successes.Add(1)
				winners <- authority
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				conflicts.Add(1)
			default:
				s.Fail(fmt.Sprintf("unexpected error: %v", err))
			}
		}()
	}
	wg.Wait()
	close(winners)

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	found, err := s.store.FindByAddress(ctx, address)
	s.Require().NoError(err)
	s.Equal(<-winners, found.Authority)

	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

// TestConcurrentExecuteChecksCurrentAuthority races many transfers that are
// all authorized by the original authority. Only the first can see it.
func (s *storeContract) TestConcurrentExecuteChecksCurrentAuthority() {
	ctx := context.Background()
	address := domain.Identity{3}
	original := domain.Identity{10}
	s.Require().NoError(s.store.CreateIfAbsent(ctx, newEntry("race", address, original)))

	const goroutines = 16
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := domain.Identity{byte(200 + i)}
			_, err := s.store.Execute(ctx, address,
				func(e *models.Entry) error {
					if !e.IsAuthority(original) {
						return errNotAuthority
					}
					return nil
				},
				func(e *models.Entry) { e.ApplyAuthorityTransfer(next) },
			)
			if err == nil {
				successes.Add(1)
			} else if !errors.Is(err, errNotAuthority) {
				s.Fail(fmt.Sprintf("unexpected error: %v", err))
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	found, err := s.store.FindByAddress(ctx, address)
	s.Require().NoError(err)
	s.NotEqual(original, found.Authority)
	s.Equal(original, found.Destination, "transfer never touches destination")
}

func (s *storeContract) TestExecuteValidationFailureLeavesEntry() {
	ctx := context.Background()
	entry := newEntry("steady", domain.Identity{4}, domain.Identity{10})
	s.Require().NoError(s.store.CreateIfAbsent(ctx, entry))

	_, err := s.store.Execute(ctx, entry.Address,
		func(*models.Entry) error { return errNotAuthority },
		func(e *models.Entry) { e.ApplyDestination(domain.Identity{77}) },
	)
	s.ErrorIs(err, errNotAuthority)

	found, err := s.store.FindByAddress(ctx, entry.Address)
	s.Require().NoError(err)
	s.Equal(*entry, *found)

	_, err = s.store.Execute(ctx, domain.Identity{98},
		func(*models.Entry) error { return nil },
		func(*models.Entry) {},
	)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
