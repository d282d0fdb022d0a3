package models

import "stealth/pkg/domain"

// Entry is the registry record for one handle.
//
// Invariants:
//   - Handle passes ValidateHandle and never changes after creation
//   - Address is derived from Handle alone, so one handle maps to one entry
//   - Authority and Destination are independent and may be any identity
//   - Entries are never deleted
type Entry struct {
	Handle      string          `json:"handle"`
	Address     domain.Identity `json:"address"`
	Authority   domain.Identity `json:"authority"`
	Destination domain.Identity `json:"destination"`
	Bump        uint8           `json:"bump"`
}

// NewEntry builds a fresh entry. A nil destination defaults to the authority.
func NewEntry(handle string, address domain.Identity, bump uint8, authority domain.Identity, destination *domain.Identity) (*Entry, error) {
	if err := ValidateHandle(handle); err != nil {
		return nil, err
	}
	dest := authority
	if destination != nil {
		dest = *destination
	}
	return &Entry{
		Handle:      handle,
		Address:     address,
		Authority:   authority,
		Destination: dest,
		Bump:        bump,
	}, nil
}

// IsAuthority reports whether identity is the current authority.
func (e *Entry) IsAuthority(identity domain.Identity) bool {
	return e.Authority == identity
}

// ApplyAuthorityTransfer replaces the authority. Destination is untouched.
func (e *Entry) ApplyAuthorityTransfer(newAuthority domain.Identity) {
	e.Authority = newAuthority
}

// ApplyDestination replaces the destination. Authority is untouched.
func (e *Entry) ApplyDestination(newDestination domain.Identity) {
	e.Destination = newDestination
}

// Clone returns a copy so stores can hand out entries without sharing memory.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
