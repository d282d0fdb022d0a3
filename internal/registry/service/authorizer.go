package service

import (
	"context"

	"stealth/pkg/domain"
	"stealth/pkg/requestcontext"
)

// Authorizer answers whether the caller has proven control of an identity.
type Authorizer interface {
	Controls(ctx context.Context, identity domain.Identity) bool
}

// SignerAuthorizer trusts the identities the proof middleware recorded on
// the request context.
type SignerAuthorizer struct{}

func (SignerAuthorizer) Controls(ctx context.Context, identity domain.Identity) bool {
	return requestcontext.HasSigner(ctx, identity)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, identity domain.Identity) bool

func (f AuthorizerFunc) Controls(ctx context.Context, identity domain.Identity) bool {
	return f(ctx, identity)
}
