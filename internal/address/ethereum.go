package address

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const ethereumHexLen = 40

// validEthereum checks "0x" + 40 hex digits. A body in a single case is
// accepted unchecksummed; a mixed-case body must match EIP-55 exactly.
func validEthereum(s string) bool {
	if len(s) != 2+ethereumHexLen {
		return false
	}
	body := s[2:]

	hasLower, hasUpper := false, false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
			hasLower = true
		case ch >= 'A' && ch <= 'F':
			hasUpper = true
		default:
			return false
		}
	}

	if !hasLower || !hasUpper {
		return true
	}

	// A mixed-case body must carry the lowercase "0x" prefix.
	if s[1] != 'x' {
		return false
	}
	return checksumBody(strings.ToLower(body)) == body
}

// ChecksumAddress returns the EIP-55 form of a 20-byte hex address.
// Input may be in any case, with or without the 0x prefix.
func ChecksumAddress(addr string) string {
	if hasHexPrefix(addr) {
		addr = addr[2:]
	}
	return "0x" + checksumBody(strings.ToLower(addr))
}

// ChecksumBytes returns the EIP-55 form of a raw 20-byte address.
func ChecksumBytes(raw []byte) string {
	return "0x" + checksumBody(hex.EncodeToString(raw))
}

// checksumBody applies the EIP-55 casing to a lowercase hex body.
func checksumBody(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i := range out {
		if out[i] < 'a' || out[i] > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] -= 'a' - 'A'
		}
	}
	return string(out)
}
