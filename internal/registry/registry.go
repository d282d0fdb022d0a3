// Package registry assembles the handle registry: a service that owns the
// handle namespace and the HTTP handler exposing it.
package registry

import (
	"log/slog"

	"stealth/internal/platform/middleware"
	"stealth/internal/registry/handler"
	"stealth/internal/registry/service"
	"stealth/internal/registry/slot"
	"stealth/pkg/domain"
)

// Service exposes handle registration and ownership-gated mutation.
type Service = service.Service

// Handler wires HTTP endpoints to the registry service.
type Handler = handler.Handler

// NewService constructs the registry service for the given program identity.
func NewService(store service.Store, programID domain.Identity, opts ...service.Option) (*Service, error) {
	return service.New(store, slot.NewDeriver(programID), opts...)
}

// NewHandler constructs the public HTTP handler.
func NewHandler(s *Service, verifier middleware.ProofVerifier, logger *slog.Logger) *Handler {
	return handler.New(s, verifier, logger)
}
