package models

import dErrors "stealth/pkg/domain-errors"

// Registry errors. Services return these values directly so callers can match
// them with errors.Is; the code drives transport status mapping.
var (
	ErrHandleEmpty        = dErrors.New(dErrors.CodeValidation, "handle cannot be empty")
	ErrHandleTooLong      = dErrors.New(dErrors.CodeValidation, "handle exceeds maximum length of 32 bytes")
	ErrInvalidHandleChars = dErrors.New(dErrors.CodeValidation, "handle contains invalid characters, use alphanumerics and underscores only")

	ErrHandleAlreadyRegistered = dErrors.New(dErrors.CodeConflict, "handle is already registered")
	ErrHandleNotFound          = dErrors.New(dErrors.CodeNotFound, "handle is not registered")

	// ErrAuthorizationFailed means the caller could not prove control of the
	// identity it asked to register as authority.
	ErrAuthorizationFailed = dErrors.New(dErrors.CodeUnauthorized, "caller has not proven control of the authority")
	// ErrUnauthorized means the caller does not control the entry's current authority.
	ErrUnauthorized = dErrors.New(dErrors.CodeForbidden, "caller is not authorized to modify this handle")
)
