// Package proof verifies proof-of-control tokens.
//
// A proof is a compact EdDSA JWT whose subject is the base58 identity of the
// signer and which verifies under that identity's own Ed25519 public key.
// Presenting a valid proof is how a caller demonstrates control of an identity.
package proof

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stealth/pkg/domain"
)

var (
	ErrMalformed     = errors.New("malformed proof")
	ErrBadSignature  = errors.New("proof signature does not match subject")
	ErrExpired       = errors.New("proof expired")
	ErrLifetimeLimit = errors.New("proof lifetime exceeds limit")
	ErrAudience      = errors.New("proof audience mismatch")
	ErrReplayed      = errors.New("proof already used")
)

// Claims carried by a proof token.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks proofs for a single audience. Each proof is accepted once.
type Verifier struct {
	audience string
	maxTTL   time.Duration
	leeway   time.Duration
	now      func() time.Time
	nonces   NonceStore
}

type Option func(*Verifier)

func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// WithNonceStore shares used proof IDs through store. Defaults to an
// in-memory store.
func WithNonceStore(store NonceStore) Option {
	return func(v *Verifier) { v.nonces = store }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(audience string, maxTTL time.Duration, opts ...Option) *Verifier {
	v := &Verifier{
		audience: audience,
		maxTTL:   maxTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.nonces == nil {
		v.nonces = NewInMemoryNonceStore(v.now)
	}
	return v
}

// Verify returns the identity proven by token and marks the token used.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	var subject domain.Identity
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		id, err := domain.ParseIdentity(sub)
		if err != nil {
			return nil, err
		}
		subject = id
		return id.PublicKey(), nil
	})
	if err != nil {
		return domain.Identity{}, classify(err)
	}

	if claims.IssuedAt == nil {
		return domain.Identity{}, fmt.Errorf("%w: iat is required", ErrMalformed)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.maxTTL {
		return domain.Identity{}, ErrLifetimeLimit
	}
	if claims.ID == "" {
		return domain.Identity{}, fmt.Errorf("%w: jti is required", ErrMalformed)
	}

	fresh, err := v.nonces.Claim(ctx, subject.String()+":"+claims.ID, claims.ExpiresAt.Add(v.leeway))
	if err != nil {
		return domain.Identity{}, err
	}
	if !fresh {
		return domain.Identity{}, ErrReplayed
	}
	return subject, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Sign issues a proof for the identity behind key.
func Sign(key ed25519.PrivateKey, audience string, issuedAt time.Time, ttl time.Duration) (string, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", ErrMalformed
	}
	signer, err := domain.IdentityFromPublicKey(pub)
	if err != nil {
		return "", err
	}
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   signer.String(),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}
