package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"stealth/pkg/domain"
)

// entryDiscriminator tags serialized entries: sha256("account:RegistryEntry")[:8].
var entryDiscriminator = func() [8]byte {
	sum := sha256.Sum256([]byte("account:RegistryEntry"))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}()

// Layout: discriminator(8) | handle length u32 LE (4) | handle | authority(32) | destination(32) | bump(1)
const entryFixedSize = 8 + 4 + domain.IdentitySize*2 + 1

// MaxEncodedEntrySize is the largest encoding MarshalBinary can produce.
const MaxEncodedEntrySize = entryFixedSize + MaxHandleLen

// MarshalBinary encodes the persisted fields of the entry. Address is the
// storage key and is not part of the payload.
func (e *Entry) MarshalBinary() ([]byte, error) {
	if err := ValidateHandle(e.Handle); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, entryFixedSize+len(e.Handle))
	buf = append(buf, entryDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Handle)))
	buf = append(buf, e.Handle...)
	buf = append(buf, e.Authority[:]...)
	buf = append(buf, e.Destination[:]...)
	buf = append(buf, e.Bump)
	return buf, nil
}

// UnmarshalBinary decodes an entry written by MarshalBinary. Address is left
// unchanged; callers set it from the storage key.
func (e *Entry) UnmarshalBinary(data []byte) error {
	if len(data) < entryFixedSize {
		return fmt.Errorf("entry payload too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], entryDiscriminator[:]) {
		return fmt.Errorf("entry payload has unknown discriminator")
	}
	handleLen := binary.LittleEndian.Uint32(data[8:12])
	if handleLen > MaxHandleLen {
		return fmt.Errorf("entry handle length %d exceeds %d", handleLen, MaxHandleLen)
	}
	if len(data) != entryFixedSize+int(handleLen) {
		return fmt.Errorf("entry payload length %d does not match handle length %d", len(data), handleLen)
	}
	off := 12
	handle := string(data[off : off+int(handleLen)])
	if err := ValidateHandle(handle); err != nil {
		return fmt.Errorf("entry payload handle: %w", err)
	}
	off += int(handleLen)

	var authority, destination domain.Identity
	copy(authority[:], data[off:off+domain.IdentitySize])
	off += domain.IdentitySize
	copy(destination[:], data[off:off+domain.IdentitySize])
	off += domain.IdentitySize

	e.Handle = handle
	e.Authority = authority
	e.Destination = destination
	e.Bump = data[off]
	return nil
}
