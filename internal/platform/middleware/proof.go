package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"stealth/pkg/domain"
	dErrors "stealth/pkg/domain-errors"
	"stealth/pkg/platform/httputil"
	"stealth/pkg/platform/strings"
	"stealth/pkg/requestcontext"
)

// ProofHeader carries proof-of-control tokens. Repeat it to prove several
// identities in one request.
const ProofHeader = "X-Stealth-Proof"

// ProofVerifier returns the identity a proof token demonstrates control of.
// A token is accepted at most once.
type ProofVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// RequireProof rejects requests that do not carry at least one valid proof.
// Every presented proof must verify.
func RequireProof(verifier ProofVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return proof(verifier, logger, true)
}

// OptionalProof records valid proofs when present. An invalid proof is
// still rejected.
func OptionalProof(verifier ProofVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return proof(verifier, logger, false)
}

func proof(verifier ProofVerifier, logger *slog.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokens := strings.SplitDedupeTrim(r.Header.Values(ProofHeader), ",")
			if len(tokens) == 0 {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				logger.WarnContext(ctx, "missing proof of control",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing "+ProofHeader+" header"))
				return
			}

			signers := make([]domain.Identity, 0, len(tokens))
			for _, token := range tokens {
				signer, err := verifier.Verify(ctx, token)
				if err != nil {
					logger.WarnContext(ctx, "invalid proof of control",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired proof"))
					return
				}
				signers = append(signers, signer)
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithSigners(ctx, signers...)))
		})
	}
}
