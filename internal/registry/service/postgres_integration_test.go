//go:build integration

package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"stealth/internal/platform/config"
	"stealth/internal/registry/models"
	"stealth/internal/registry/service"
	"stealth/internal/registry/slot"
	"stealth/internal/registry/store"
	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
	audit "stealth/pkg/platform/audit"
	"stealth/pkg/platform/audit/publishers/compliance"
	auditpostgres "stealth/pkg/platform/audit/store/postgres"
	"stealth/pkg/requestcontext"
	"stealth/pkg/testutil/containers"
)

// PostgresServiceSuite checks that registry writes and their outbox rows
// commit or roll back together.
type PostgresServiceSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *store.PostgresStore
	publisher *compliance.Publisher
	logger    *slog.Logger
	authority domain.Identity
	other     domain.Identity
}

func TestPostgresServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresServiceSuite))
}

func (s *PostgresServiceSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.publisher = compliance.New(auditpostgres.New(s.postgres.DB), compliance.WithLogger(s.logger))
	s.authority = domain.Identity{1, 1, 1}
	s.other = domain.Identity{2, 2, 2}
}

func (s *PostgresServiceSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background()))
}

func (s *PostgresServiceSuite) newService(publisher service.AuditPublisher) *service.Service {
	svc, err := service.New(s.store, slot.NewDeriver(domain.MustParseIdentity(config.DefaultProgramID)),
		service.WithLogger(s.logger),
		service.WithTx(service.NewPostgresTx(s.postgres.DB, s.store)),
		service.WithAuditPublisher(publisher),
	)
	s.Require().NoError(err)
	return svc
}

func (s *PostgresServiceSuite) countOutbox(eventType string) int {
	var n int
	err := s.postgres.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM outbox WHERE event_type = $1`, eventType).Scan(&n)
	s.Require().NoError(err)
	return n
}

// failingAudit writes through the real outbox and then fails, so the
// transaction must discard both the outbox row and the entry.
type failingAudit struct {
	inner *compliance.Publisher
}

func (f failingAudit) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	if err := f.inner.Emit(ctx, event); err != nil {
		return err
	}
	return errors.New("audit sink rejected event")
}

func (s *PostgresServiceSuite) TestCreateWritesOutboxRowInSameTransaction() {
	ctx := requestcontext.WithSigners(context.Background(), s.authority)
	svc := s.newService(s.publisher)

	entry, err := svc.Create(ctx, service.CreateRequest{Handle: "ariel", Authority: s.authority})
	s.Require().NoError(err)

	s.Equal(1, s.countOutbox(string(audit.EventHandleCreated)))
	var aggregateID string
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT aggregate_id FROM outbox WHERE event_type = $1`, string(audit.EventHandleCreated)).Scan(&aggregateID))
	s.Equal(entry.Address.String(), aggregateID)
}

func (s *PostgresServiceSuite) TestAuditFailureRollsBackCreate() {
	ctx := requestcontext.WithSigners(context.Background(), s.authority)
	svc := s.newService(failingAudit{inner: s.publisher})

	_, err := svc.Create(ctx, service.CreateRequest{Handle: "ariel", Authority: s.authority})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.newService(s.publisher).Lookup(ctx, "ariel")
	s.ErrorIs(err, models.ErrHandleNotFound)
	s.Equal(0, s.countOutbox(string(audit.EventHandleCreated)))
}

func (s *PostgresServiceSuite) TestAuditFailureRollsBackTransfer() {
	ctx := requestcontext.WithSigners(context.Background(), s.authority)
	_, err := s.newService(s.publisher).Create(ctx, service.CreateRequest{Handle: "ariel", Authority: s.authority})
	s.Require().NoError(err)

	_, err = s.newService(failingAudit{inner: s.publisher}).TransferAuthority(ctx, "ariel", s.other)
	s.Require().Error(err)

	entry, err := s.newService(s.publisher).Lookup(ctx, "ariel")
	s.Require().NoError(err)
	s.Equal(s.authority, entry.Authority)
	s.Equal(0, s.countOutbox(string(audit.EventAuthorityTransferred)))
}

func (s *PostgresServiceSuite) TestOwnershipRulesHoldOnPostgres() {
	svc := s.newService(s.publisher)
	asAuthority := requestcontext.WithSigners(context.Background(), s.authority)
	asOther := requestcontext.WithSigners(context.Background(), s.other)

	_, err := svc.Create(asAuthority, service.CreateRequest{Handle: "ariel", Authority: s.authority})
	s.Require().NoError(err)

	_, err = svc.Create(asOther, service.CreateRequest{Handle: "ariel", Authority: s.other})
	s.ErrorIs(err, models.ErrHandleAlreadyRegistered)

	_, err = svc.SetDestination(asOther, "ariel", s.other)
	s.ErrorIs(err, models.ErrUnauthorized)

	_, err = svc.TransferAuthority(asAuthority, "ariel", s.other)
	s.Require().NoError(err)

	entry, err := svc.SetDestination(asOther, "ariel", s.other)
	s.Require().NoError(err)
	s.Equal(s.other, entry.Authority)
	s.Equal(s.other, entry.Destination)

	s.Equal(1, s.countOutbox(string(audit.EventHandleCreated)))
	s.Equal(1, s.countOutbox(string(audit.EventAuthorityTransferred)))
	s.Equal(1, s.countOutbox(string(audit.EventDestinationSet)))
}
