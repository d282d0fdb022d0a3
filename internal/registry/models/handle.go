package models

import "strings"

// MaxHandleLen is the maximum handle length in bytes. Handles are used as a
// derivation seed, which caps them at 32 bytes.
const MaxHandleLen = 32

// NameSuffix is the display suffix of registered handles ("ariel.stealth").
const NameSuffix = ".stealth"

// ValidateHandle checks emptiness, then length, then charset so that an
// oversized handle with bad characters reports ErrHandleTooLong.
func ValidateHandle(handle string) error {
	if len(handle) == 0 {
		return ErrHandleEmpty
	}
	if len(handle) > MaxHandleLen {
		return ErrHandleTooLong
	}
	for i := 0; i < len(handle); i++ {
		if !isHandleByte(handle[i]) {
			return ErrInvalidHandleChars
		}
	}
	return nil
}

func isHandleByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		return true
	default:
		return false
	}
}

// TrimNameSuffix turns "ariel.stealth" into "ariel". The suffix match is
// case-insensitive; the handle part is returned untouched.
func TrimNameSuffix(name string) string {
	if len(name) > len(NameSuffix) && strings.EqualFold(name[len(name)-len(NameSuffix):], NameSuffix) {
		return name[:len(name)-len(NameSuffix)]
	}
	return name
}
