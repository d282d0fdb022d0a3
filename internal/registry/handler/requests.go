package handler

import (
	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
)

// CreateHandleRequest is the body of POST /v1/handles.
type CreateHandleRequest struct {
	Handle      string           `json:"handle"`
	Authority   *domain.Identity `json:"authority,omitempty"`
	Destination *domain.Identity `json:"destination,omitempty"`
}

// Validate rejects zero identities. The handle is passed on verbatim; its
// syntax is checked by the service.
func (r *CreateHandleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Authority != nil && r.Authority.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "authority must not be the zero identity")
	}
	if r.Destination != nil && r.Destination.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "destination must not be the zero identity")
	}
	return nil
}

// TransferAuthorityRequest is the body of PUT /v1/handles/{handle}/authority.
type TransferAuthorityRequest struct {
	Authority *domain.Identity `json:"authority"`
}

func (r *TransferAuthorityRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Authority == nil || r.Authority.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "authority is required")
	}
	return nil
}

// SetDestinationRequest is the body of PUT /v1/handles/{handle}/destination.
type SetDestinationRequest struct {
	Destination *domain.Identity `json:"destination"`
}

func (r *SetDestinationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Destination == nil || r.Destination.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "destination is required")
	}
	return nil
}
