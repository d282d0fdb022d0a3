package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and the registry service translates them into domain errors:
//   - ErrNotFound: nothing is stored at the requested address
//   - ErrAlreadyUsed: the address is already occupied (create-if-absent lost)
//   - ErrConflict: an optimistic transaction kept losing to concurrent writers
//   - ErrCorrupt: stored bytes could not be decoded into an entry
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
	ErrConflict    = errors.New("conflict")
	ErrCorrupt     = errors.New("corrupt record")
)
