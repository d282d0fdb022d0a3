package testutil

import (
	"net/http"

	"stealth/pkg/domain"
	"stealth/pkg/requestcontext"
)

// WithSigners marks identities as proven on the request, the state the proof
// middleware leaves behind after verifying X-Stealth-Proof headers.
func WithSigners(req *http.Request, signers ...domain.Identity) *http.Request {
	return req.WithContext(requestcontext.WithSigners(req.Context(), signers...))
}

// WithRequestID sets the correlation ID the request middleware would assign.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
