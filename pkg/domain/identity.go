package domain

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	dErrors "stealth/pkg/domain-errors"
)

// IdentitySize is the byte length of an identity (an ed25519 public key or a
// derived address).
const IdentitySize = 32

// Identity is a public-key-equivalent value. Authorities, destinations and
// derived entry addresses all share this representation; the text form is
// base58.
type Identity [IdentitySize]byte

// ParseIdentity decodes a base58 identity. It rejects empty input and any
// value that does not decode to exactly 32 bytes.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must be base58")
	}
	if len(raw) != IdentitySize {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must be 32 bytes")
	}
	var out Identity
	copy(out[:], raw)
	return out, nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	out, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return out
}

// IdentityFromPublicKey converts an ed25519 public key.
func IdentityFromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "public key must be 32 bytes")
	}
	var out Identity
	copy(out[:], pub)
	return out, nil
}

// PublicKey returns the identity as an ed25519 verification key.
func (i Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(i[:])
}

func (i Identity) String() string {
	return base58.Encode(i[:])
}

func (i Identity) Bytes() []byte {
	return i[:]
}

func (i Identity) IsNil() bool {
	return i == Identity{}
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
