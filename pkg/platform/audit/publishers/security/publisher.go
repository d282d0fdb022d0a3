// Package security publishes rejected-attempt events without blocking callers.
//
// Emit enqueues into a bounded ring buffer and returns immediately. A single
// drain goroutine writes batches to the audit store. When the buffer is full
// the oldest event is dropped and counted.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "stealth/pkg/platform/audit"
	"stealth/pkg/requestcontext"
)

const drainBatch = 64

type Publisher struct {
	store  audit.Store
	buffer *ringBuffer
	logger *slog.Logger

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	emitted prometheus.Counter
	dropped prometheus.Counter
	failed  prometheus.Counter
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithRegisterer registers the publisher's counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Publisher) {
		factory := promauto.With(reg)
		p.emitted = factory.NewCounter(prometheus.CounterOpts{
			Name: "stealth_audit_security_emitted_total",
			Help: "Security audit events persisted",
		})
		p.dropped = factory.NewCounter(prometheus.CounterOpts{
			Name: "stealth_audit_security_dropped_total",
			Help: "Security audit events dropped because the buffer was full",
		})
		p.failed = factory.NewCounter(prometheus.CounterOpts{
			Name: "stealth_audit_security_persist_failures_total",
			Help: "Security audit events that failed to persist",
		})
	}
}

// New starts the drain goroutine. Call Close to flush and stop it.
func New(store audit.Store, capacity int, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		buffer: newRingBuffer(capacity),
		logger: slog.Default(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Emit enqueues event. It never blocks on the store.
func (p *Publisher) Emit(ctx context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	if p.buffer.push(event) && p.dropped != nil {
		p.dropped.Inc()
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of events not yet written.
func (p *Publisher) Pending() int { return p.buffer.len() }

// Dropped returns the number of events evicted from a full buffer.
func (p *Publisher) Dropped() int64 { return p.buffer.droppedCount() }

// Close flushes buffered events and stops the drain goroutine.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.notify:
			p.drain()
		case <-ticker.C:
			p.drain()
		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	// Detached from any request: the emitting request may be gone.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		batch := p.buffer.take(drainBatch)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				if p.failed != nil {
					p.failed.Inc()
				}
				p.logger.Warn("security audit write failed",
					"action", event.Action,
					"handle", event.Handle,
					"error", err,
				)
				continue
			}
			if p.emitted != nil {
				p.emitted.Inc()
			}
		}
	}
}
