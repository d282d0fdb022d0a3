// Package slot derives the storage address of a registry entry from its handle.
//
// The address is a program-derived address: sha256 over the seeds, a one-byte
// bump, the program identity and a fixed marker, searched from bump 255
// downwards until the digest is not a valid ed25519 point. Off-curve addresses
// have no private key, so nothing but the registry can ever act for them.
package slot

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"stealth/pkg/domain"
)

// Namespace is the fixed first seed of every registry address.
const Namespace = "stealth"

// MaxSeedLen bounds each seed, which is also why handles are capped at 32 bytes.
const MaxSeedLen = 32

const pdaMarker = "ProgramDerivedAddress"

var (
	ErrSeedTooLong = errors.New("derivation seed exceeds 32 bytes")
	ErrNoAddress   = errors.New("no off-curve address for seeds")
)

// Address is a derived storage location and the bump that produced it.
type Address struct {
	Key  domain.Identity
	Bump uint8
}

// Deriver derives addresses under a fixed program identity.
type Deriver struct {
	programID domain.Identity
}

func NewDeriver(programID domain.Identity) *Deriver {
	return &Deriver{programID: programID}
}

// ProgramID returns the identity addresses are derived under.
func (d *Deriver) ProgramID() domain.Identity {
	return d.programID
}

// Derive returns the canonical address for handle: the highest bump whose
// digest is off the curve.
func (d *Deriver) Derive(handle string) (Address, error) {
	return FindAddress(d.programID, []byte(Namespace), []byte(handle))
}

// Verify reports whether key is the address for handle at bump.
func (d *Deriver) Verify(handle string, bump uint8, key domain.Identity) bool {
	got, err := CreateAddress(d.programID, bump, []byte(Namespace), []byte(handle))
	return err == nil && got == key
}

// FindAddress searches bumps 255..0 for the first off-curve address.
func FindAddress(programID domain.Identity, seeds ...[]byte) (Address, error) {
	for bump := 255; bump >= 0; bump-- {
		key, err := CreateAddress(programID, uint8(bump), seeds...)
		if errors.Is(err, errOnCurve) {
			continue
		}
		if err != nil {
			return Address{}, err
		}
		return Address{Key: key, Bump: uint8(bump)}, nil
	}
	return Address{}, ErrNoAddress
}

var errOnCurve = errors.New("derived address is on the ed25519 curve")

// CreateAddress computes the address for an explicit bump.
func CreateAddress(programID domain.Identity, bump uint8, seeds ...[]byte) (domain.Identity, error) {
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return domain.Identity{}, fmt.Errorf("seed %d: %w", i, ErrSeedTooLong)
		}
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var key domain.Identity
	copy(key[:], h.Sum(nil))
	if IsOnCurve(key[:]) {
		return domain.Identity{}, errOnCurve
	}
	return key, nil
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
