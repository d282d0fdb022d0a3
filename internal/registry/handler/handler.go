// Package handler exposes the handle registry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stealth/internal/platform/middleware"
	"stealth/internal/registry/models"
	"stealth/internal/registry/service"
	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
	"stealth/pkg/platform/httputil"
	"stealth/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the registry operations the handler needs.
type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.Entry, error)
	TransferAuthority(ctx context.Context, handle string, newAuthority domain.Identity) (*models.Entry, error)
	SetDestination(ctx context.Context, handle string, newDestination domain.Identity) (*models.Entry, error)
	Lookup(ctx context.Context, handle string) (*models.Entry, error)
	Resolve(ctx context.Context, name string) (domain.Identity, error)
}

// Handler wires registry endpoints to the registry service.
type Handler struct {
	service  Service
	verifier middleware.ProofVerifier
	logger   *slog.Logger
}

// New constructs a registry handler with its dependencies.
func New(service Service, verifier middleware.ProofVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
		logger:   logger,
	}
}

// Register mounts registry endpoints on the router. Mutations require a
// proof of control.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/handles/{handle}", h.HandleLookup)
	r.Get("/v1/resolve/{name}", h.HandleResolve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireProof(h.verifier, h.logger))
		r.Post("/v1/handles", h.HandleCreate)
		r.Put("/v1/handles/{handle}/authority", h.HandleTransferAuthority)
		r.Put("/v1/handles/{handle}/destination", h.HandleSetDestination)
	})
}

// HandleCreate handles POST /v1/handles. The authority defaults to the first
// proven signer.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateHandleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	authority := req.Authority
	if authority == nil {
		signers := requestcontext.Signers(ctx)
		if len(signers) == 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "proof of control required"))
			return
		}
		authority = &signers[0]
	}

	entry, err := h.service.Create(ctx, service.CreateRequest{
		Handle:      req.Handle,
		Authority:   *authority,
		Destination: req.Destination,
	})
	if err != nil {
		h.logFailure(ctx, "create handle failed", req.Handle, err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "handle created",
		"request_id", requestID,
		"handle", entry.Handle,
		"address", entry.Address.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromEntry(entry))
}

// HandleTransferAuthority handles PUT /v1/handles/{handle}/authority.
func (h *Handler) HandleTransferAuthority(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	handle := chi.URLParam(r, "handle")

	req, ok := httputil.DecodeAndPrepare[TransferAuthorityRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.TransferAuthority(ctx, handle, *req.Authority)
	if err != nil {
		h.logFailure(ctx, "transfer authority failed", handle, err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "authority transferred",
		"request_id", requestID,
		"handle", entry.Handle,
	)
	httputil.WriteJSON(w, http.StatusOK, FromEntry(entry))
}

// HandleSetDestination handles PUT /v1/handles/{handle}/destination.
func (h *Handler) HandleSetDestination(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	handle := chi.URLParam(r, "handle")

	req, ok := httputil.DecodeAndPrepare[SetDestinationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.SetDestination(ctx, handle, *req.Destination)
	if err != nil {
		h.logFailure(ctx, "set destination failed", handle, err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "destination set",
		"request_id", requestID,
		"handle", entry.Handle,
	)
	httputil.WriteJSON(w, http.StatusOK, FromEntry(entry))
}

// HandleLookup handles GET /v1/handles/{handle}.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := chi.URLParam(r, "handle")

	entry, err := h.service.Lookup(ctx, handle)
	if err != nil {
		h.logFailure(ctx, "lookup failed", handle, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntry(entry))
}

// HandleResolve handles GET /v1/resolve/{name}.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	destination, err := h.service.Resolve(ctx, name)
	if err != nil {
		h.logFailure(ctx, "resolve failed", name, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ResolveResponse{
		Name:        name,
		Handle:      models.TrimNameSuffix(name),
		Destination: destination,
	})
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg, handle string, err error) {
	level := slog.LevelError
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"handle", handle,
		"error", err,
	)
}
