package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	httpapi "stealth/internal/http"
	"stealth/internal/platform/config"
	"stealth/internal/platform/httpserver"
	"stealth/internal/platform/logger"
	platformmetrics "stealth/internal/platform/metrics"
	"stealth/internal/platform/otel"
	ratelimitmetrics "stealth/internal/ratelimit/metrics"
	ratelimit "stealth/internal/ratelimit/middleware"
	"stealth/internal/ratelimit/models"
	"stealth/internal/registry"
	registrymetrics "stealth/internal/registry/metrics"
	"stealth/internal/registry/service"
	"stealth/pkg/domain"
	"stealth/pkg/platform/audit/publishers/compliance"
	"stealth/pkg/platform/audit/publishers/security"
	"stealth/pkg/platform/middleware/metadata"
	"stealth/pkg/platform/proof"
)

// main wires dependencies for the selected storage backend and runs the HTTP
// server and the outbox relay until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stealth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	programID, err := domain.ParseIdentity(cfg.Registry.ProgramID)
	if err != nil {
		return fmt.Errorf("parse STEALTH_REGISTRY_PROGRAM_ID: %w", err)
	}
	trustedProxies, err := metadata.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse STEALTH_TRUSTED_PROXIES: %w", err)
	}

	reg := prometheus.DefaultRegisterer
	g, gctx := errgroup.WithContext(ctx)

	b, err := openBackend(gctx, cfg, log, reg, g)
	if err != nil {
		return err
	}
	defer b.close(log)

	securityPublisher := security.New(b.audit, cfg.Audit.SecurityQueue,
		security.WithLogger(log),
		security.WithRegisterer(reg),
	)
	defer func() {
		if err := securityPublisher.Close(); err != nil {
			log.Warn("security audit flush failed", "error", err)
		}
	}()
	compliancePublisher := compliance.New(b.audit,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)

	svc, err := registry.NewService(b.store, programID,
		service.WithLogger(log),
		service.WithMetrics(registrymetrics.New(reg)),
		service.WithTx(b.tx),
		service.WithAuditPublisher(compliancePublisher),
		service.WithSecurityPublisher(securityPublisher),
	)
	if err != nil {
		return fmt.Errorf("build registry service: %w", err)
	}

	limiter := ratelimit.New(b.buckets, log,
		ratelimit.WithDisabled(!cfg.Limits.Enabled),
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
		ratelimit.WithLimit(models.ClassRead, models.Limit{Requests: cfg.Limits.Reads, Window: cfg.Limits.Window}),
		ratelimit.WithLimit(models.ClassWrite, models.Limit{Requests: cfg.Limits.Writes, Window: cfg.Limits.Window}),
	)

	verifier := proof.NewVerifier(cfg.Proof.Audience, cfg.Proof.MaxTTL,
		proof.WithLeeway(cfg.Proof.Leeway),
		proof.WithNonceStore(b.nonces),
	)
	router := httpapi.NewRouter(httpapi.Config{
		Logger:         log,
		Metrics:        platformmetrics.New(reg),
		Gatherer:       prometheus.DefaultGatherer,
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks:   b.checks,
		RateLimit:      limiter.ByMethod,
		TrustedProxies: trustedProxies,
	}, registry.NewHandler(svc, verifier, log))

	srv := httpserver.New(cfg.Addr, router)
	g.Go(func() error {
		log.Info("starting stealth registry",
			"addr", cfg.Addr,
			"backend", cfg.Storage.Backend,
			"program_id", programID.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
