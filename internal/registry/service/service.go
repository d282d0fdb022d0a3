package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stealth/internal/registry/metrics"
	"stealth/internal/registry/models"
	"stealth/internal/registry/slot"
	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
	audit "stealth/pkg/platform/audit"
	"stealth/pkg/platform/sentinel"
	"stealth/pkg/requestcontext"
)

// Store is the storage substrate. Implementations must make CreateIfAbsent
// first-writer-wins and run validate, mutate and the write of Execute as one
// atomic unit.
type Store interface {
	CreateIfAbsent(ctx context.Context, entry *models.Entry) error
	FindByAddress(ctx context.Context, address domain.Identity) (*models.Entry, error)
	Execute(ctx context.Context, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error)
}

// AuditPublisher persists compliance events. An error must fail the change.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// SecurityPublisher records rejected attempts without blocking.
type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// CreateRequest registers Handle for Authority. A nil Destination defaults
// to Authority.
type CreateRequest struct {
	Handle      string
	Authority   domain.Identity
	Destination *domain.Identity
}

// Service applies registry operations. Every mutation is authorized against
// the authority stored at the moment of the write.
type Service struct {
	store      Store
	deriver    *slot.Deriver
	tx         RegistryStoreTx
	authorizer Authorizer
	audit      AuditPublisher
	security   SecurityPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx replaces the default in-process transaction boundary.
func WithTx(tx RegistryStoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) {
		s.authorizer = a
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithSecurityPublisher(p SecurityPublisher) Option {
	return func(s *Service) {
		s.security = p
	}
}

// New constructs a Service. Without options, proofs are read from the
// request context and changes are not audited.
func New(store Store, deriver *slot.Deriver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("registry store is required")
	}
	if deriver == nil {
		return nil, errors.New("slot deriver is required")
	}
	s := &Service{
		store:      store,
		deriver:    deriver,
		authorizer: SignerAuthorizer{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("stealth/internal/registry/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewShardedTx(store)
	}
	return s, nil
}

// Create registers a new handle. The caller must have proven control of the
// requested authority. Exactly one of any number of concurrent creators of a
// handle succeeds; the rest get ErrHandleAlreadyRegistered.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Entry, error) {
	const op = "create"
	ctx, span := s.startSpan(ctx, op, req.Handle)
	defer span.End()
	defer s.observe(op, time.Now())

	if err := models.ValidateHandle(req.Handle); err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	if !s.authorizer.Controls(ctx, req.Authority) {
		s.emitSecurity(ctx, audit.SecurityEvent{
			Action: string(audit.EventAuthorizationDenied),
			Handle: req.Handle,
			Actor:  req.Authority.String(),
			Reason: "no proof of control for requested authority",
		})
		return nil, s.fail(ctx, span, op, models.ErrAuthorizationFailed)
	}

	addr, err := s.deriver.Derive(req.Handle)
	if err != nil {
		return nil, s.fail(ctx, span, op, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive handle address"))
	}
	entry, err := models.NewEntry(req.Handle, addr.Key, addr.Bump, req.Authority, req.Destination)
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}

	err = s.tx.RunInTx(withTxAddress(ctx, addr.Key), func(ctx context.Context, store Store) error {
		if err := store.CreateIfAbsent(ctx, entry); err != nil {
			return err
		}
		return s.emitCompliance(ctx, audit.ComplianceEvent{
			Action:      string(audit.EventHandleCreated),
			Handle:      entry.Handle,
			Address:     entry.Address.String(),
			Actor:       req.Authority.String(),
			Authority:   entry.Authority.String(),
			Destination: entry.Destination.String(),
		})
	})
	if err != nil {
		return nil, s.fail(ctx, span, op, translate(err, "failed to create handle"))
	}

	s.logger.InfoContext(ctx, "handle registered",
		"handle", entry.Handle,
		"address", entry.Address.String(),
		"authority", entry.Authority.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.HandlesCreated.Inc()
	}
	return entry, nil
}

// TransferAuthority hands control of handle to newAuthority. Any identity is
// accepted, including one nobody controls. Destination is unchanged.
func (s *Service) TransferAuthority(ctx context.Context, handle string, newAuthority domain.Identity) (*models.Entry, error) {
	const op = "transfer_authority"
	ctx, span := s.startSpan(ctx, op, handle)
	defer span.End()
	defer s.observe(op, time.Now())

	var previous domain.Identity
	entry, err := s.mutate(ctx, op, handle, func(e *models.Entry) audit.ComplianceEvent {
		previous = e.Authority
		e.ApplyAuthorityTransfer(newAuthority)
		return audit.ComplianceEvent{
			Action:            string(audit.EventAuthorityTransferred),
			Authority:         newAuthority.String(),
			PreviousAuthority: previous.String(),
			Destination:       e.Destination.String(),
		}
	})
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}

	s.logger.InfoContext(ctx, "authority transferred",
		"handle", entry.Handle,
		"from", previous.String(),
		"to", entry.Authority.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.AuthorityTransfers.Inc()
	}
	return entry, nil
}

// SetDestination changes where payments for handle are routed. Authority is
// unchanged.
func (s *Service) SetDestination(ctx context.Context, handle string, newDestination domain.Identity) (*models.Entry, error) {
	const op = "set_destination"
	ctx, span := s.startSpan(ctx, op, handle)
	defer span.End()
	defer s.observe(op, time.Now())

	entry, err := s.mutate(ctx, op, handle, func(e *models.Entry) audit.ComplianceEvent {
		e.ApplyDestination(newDestination)
		return audit.ComplianceEvent{
			Action:      string(audit.EventDestinationSet),
			Authority:   e.Authority.String(),
			Destination: newDestination.String(),
		}
	})
	if err != nil {
		return nil, s.fail(ctx, span, op, err)
	}

	s.logger.InfoContext(ctx, "destination set",
		"handle", entry.Handle,
		"destination", entry.Destination.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.DestinationUpdates.Inc()
	}
	return entry, nil
}

// mutate runs change against the current entry inside one atomic unit. The
// caller must control the authority stored at that moment.
func (s *Service) mutate(ctx context.Context, op, handle string, change func(*models.Entry) audit.ComplianceEvent) (*models.Entry, error) {
	if err := models.ValidateHandle(handle); err != nil {
		return nil, err
	}
	addr, err := s.deriver.Derive(handle)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive handle address")
	}

	var (
		updated *models.Entry
		event   audit.ComplianceEvent
	)
	err = s.tx.RunInTx(withTxAddress(ctx, addr.Key), func(ctx context.Context, store Store) error {
		authorize := func(e *models.Entry) error {
			if !s.authorizer.Controls(ctx, e.Authority) {
				return models.ErrUnauthorized
			}
			return nil
		}
		apply := func(e *models.Entry) {
			event = change(e)
		}
		entry, err := store.Execute(ctx, addr.Key, authorize, apply)
		if err != nil {
			return err
		}
		event.Handle = entry.Handle
		event.Address = entry.Address.String()
		event.Actor = actor(ctx)
		if err := s.emitCompliance(ctx, event); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if errors.Is(err, models.ErrUnauthorized) {
		s.emitSecurity(ctx, audit.SecurityEvent{
			Action: string(audit.EventUnauthorizedChange),
			Handle: handle,
			Actor:  actor(ctx),
			Reason: op + " without proof of control of current authority",
		})
	}
	if err != nil {
		return nil, translate(err, "failed to update handle")
	}
	return updated, nil
}

// Lookup returns the current entry for handle. No authorization is needed.
func (s *Service) Lookup(ctx context.Context, handle string) (*models.Entry, error) {
	const op = "lookup"
	ctx, span := s.startSpan(ctx, op, handle)
	defer span.End()
	defer s.observe(op, time.Now())

	if err := models.ValidateHandle(handle); err != nil {
		return nil, s.fail(ctx, span, op, err)
	}
	addr, err := s.deriver.Derive(handle)
	if err != nil {
		return nil, s.fail(ctx, span, op, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive handle address"))
	}
	entry, err := s.store.FindByAddress(ctx, addr.Key)
	if err != nil {
		return nil, s.fail(ctx, span, op, translate(err, "failed to load handle"))
	}
	return entry, nil
}

// Resolve maps a name, with or without the ".stealth" suffix, to the
// destination payments should be sent to.
func (s *Service) Resolve(ctx context.Context, name string) (domain.Identity, error) {
	entry, err := s.Lookup(ctx, models.TrimNameSuffix(name))
	if err != nil {
		return domain.Identity{}, err
	}
	return entry.Destination, nil
}

func (s *Service) emitCompliance(ctx context.Context, event audit.ComplianceEvent) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func (s *Service) emitSecurity(ctx context.Context, event audit.SecurityEvent) {
	s.logger.WarnContext(ctx, event.Action,
		"handle", event.Handle,
		"actor", event.Actor,
		"reason", event.Reason,
		"request_id", requestcontext.RequestID(ctx),
		"log_type", "audit",
	)
	if s.security != nil {
		s.security.Emit(ctx, event)
	}
}

func (s *Service) startSpan(ctx context.Context, op, handle string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "registry."+op, trace.WithAttributes(attribute.String("stealth.handle", handle)))
}

func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	code := dErrors.CodeOf(err)
	span.SetAttributes(attribute.String("stealth.error_code", string(code)))
	if code == dErrors.CodeInternal || code == dErrors.CodeTimeout {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "registry operation failed",
			"operation", op,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if s.metrics != nil {
		s.metrics.IncRejection(op, string(code))
	}
	return err
}

func (s *Service) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, start)
	}
}

// translate maps store facts onto registry errors. Coded errors pass through.
func translate(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return models.ErrHandleAlreadyRegistered
	case errors.Is(err, sentinel.ErrNotFound):
		return models.ErrHandleNotFound
	case errors.As(err, &coded):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// actor names the first proven signer, for audit records.
func actor(ctx context.Context) string {
	signers := requestcontext.Signers(ctx)
	if len(signers) == 0 {
		return ""
	}
	return signers[0].String()
}
