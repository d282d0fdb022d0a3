// Package compliance provides a fail-closed audit publisher for registry changes.
//
// Events are written synchronously and the caller blocks until the write
// succeeds. If the write fails, an error is returned and the calling
// operation MUST fail. Emit inside the same transaction as the change so an
// outbox-backed store commits both or neither.
//
// Use for: handle_created, authority_transferred, destination_set
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "stealth/pkg/platform/audit"
	"stealth/pkg/requestcontext"
)

var ErrIncompleteEvent = errors.New("incomplete compliance event")

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a compliance publisher over store.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit persists event before returning. Missing timestamp and request ID are
// filled from the request context.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	if err := validate(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	start := time.Now()
	err := p.store.Append(ctx, event.ToEvent())
	if err != nil {
		p.recordFailure(ctx, event, err)
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ObservePersistDuration(time.Since(start).Seconds())
		p.metrics.IncEventsEmitted()
	}
	return nil
}

func validate(event audit.ComplianceEvent) error {
	switch {
	case event.Action == "":
		return fmt.Errorf("%w: action is required", ErrIncompleteEvent)
	case audit.AuditEvent(event.Action).Category() != audit.CategoryCompliance:
		return fmt.Errorf("%w: %q is not a compliance action", ErrIncompleteEvent, event.Action)
	case event.Address == "":
		return fmt.Errorf("%w: address is required", ErrIncompleteEvent)
	}
	return nil
}

func (p *Publisher) recordFailure(ctx context.Context, event audit.ComplianceEvent, err error) {
	if p.metrics != nil {
		p.metrics.IncPersistFailures()
	}
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "compliance audit write failed",
			"action", event.Action,
			"handle", event.Handle,
			"address", event.Address,
			"error", err,
		)
	}
}
