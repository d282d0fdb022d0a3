package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	httpapi "stealth/internal/http"
	"stealth/internal/platform/config"
	"stealth/internal/platform/postgres"
	redisclient "stealth/internal/platform/redis"
	ratelimit "stealth/internal/ratelimit/middleware"
	"stealth/internal/ratelimit/store/bucket"
	"stealth/internal/registry/service"
	"stealth/internal/registry/store"
	audit "stealth/pkg/platform/audit"
	auditmemory "stealth/pkg/platform/audit/store/memory"
	auditpostgres "stealth/pkg/platform/audit/store/postgres"
	auditredis "stealth/pkg/platform/audit/store/redis"
	"stealth/pkg/platform/audit/worker"
	"stealth/pkg/platform/proof"
)

const noncePruneInterval = time.Minute

// backend is the storage substrate chosen by STEALTH_STORAGE_BACKEND with
// the audit store, transaction boundary and used-proof store that match it.
type backend struct {
	store   service.Store
	tx      service.RegistryStoreTx
	audit   audit.Store
	buckets ratelimit.BucketStore
	nonces  proof.NonceStore
	checks  map[string]httpapi.HealthCheck
	closers []func() error
}

func (b *backend) close(log *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("close backend resource", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer, g *errgroup.Group) (*backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, log, reg, g)
	case config.BackendRedis:
		return openRedis(ctx, cfg)
	default:
		s := store.NewInMemory()
		return &backend{
			store:   s,
			tx:      service.NewShardedTx(s),
			audit:   auditmemory.NewInMemoryStore(auditmemory.WithCapacity(cfg.Audit.MemoryCapacity)),
			buckets: bucket.NewInMemoryBucketStore(),
			nonces:  proof.NewInMemoryNonceStore(nil),
		}, nil
	}
}

func openPostgres(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer, g *errgroup.Group) (*backend, error) {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	b := &backend{
		buckets: bucket.NewInMemoryBucketStore(),
		checks:  map[string]httpapi.HealthCheck{"postgres": db.PingContext},
		closers: []func() error{db.Close},
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			b.close(log)
			return nil, err
		}
	}
	s := store.NewPostgres(db)
	b.store = s
	b.tx = service.NewPostgresTx(db, s)
	b.audit = auditpostgres.New(db)

	nonces := proof.NewPostgresNonceStore(db)
	b.nonces = nonces
	g.Go(func() error { return nonces.RunPruner(ctx, noncePruneInterval, log) })

	if len(cfg.Audit.KafkaBrokers) > 0 {
		if err := startRelay(ctx, cfg.Audit, db, log, reg, g, b); err != nil {
			b.close(log)
			return nil, err
		}
	}
	return b, nil
}

func startRelay(ctx context.Context, cfg config.AuditConfig, db *sql.DB, log *slog.Logger, reg prometheus.Registerer, g *errgroup.Group, b *backend) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	b.closers = append(b.closers, func() error {
		client.Close()
		return nil
	})
	b.checks["kafka"] = client.Ping

	if err := worker.EnsureTopic(ctx, client, cfg.Topic, 1, -1); err != nil {
		return err
	}
	relay := worker.NewRelay(db, client, cfg.Topic,
		worker.WithLogger(log),
		worker.WithBatchSize(cfg.BatchSize),
		worker.WithInterval(cfg.RelayInterval),
		worker.WithRegisterer(reg),
	)
	g.Go(func() error { return relay.Run(ctx) })
	log.Info("outbox relay started", "topic", cfg.Topic, "brokers", cfg.KafkaBrokers)
	return nil
}

func openRedis(ctx context.Context, cfg config.Server) (*backend, error) {
	client, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	s := store.NewRedis(client.Client)
	return &backend{
		store: s,
		tx:    service.NewRedisTx(s),
		audit: auditredis.New(client.Client,
			auditredis.WithStream(cfg.Audit.Stream),
			auditredis.WithMaxLen(cfg.Audit.StreamMaxLen),
		),
		buckets: bucket.NewRedisBucketStore(client.Client),
		nonces:  proof.NewRedisNonceStore(client.Client),
		checks:  map[string]httpapi.HealthCheck{"redis": client.Health},
		closers: []func() error{client.Close},
	}, nil
}
