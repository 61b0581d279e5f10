package address

import (
	"encoding/base32"
	"encoding/binary"
	"hash/crc32"
	"strings"
)

const (
	// MaxPrincipalBytes is the largest principal the text form may carry.
	MaxPrincipalBytes = 29

	principalGroupLen = 5
	principalCRCLen   = 4
)

var principalEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// PrincipalText renders raw principal bytes in the textual form:
// base32(crc32 || bytes), lowercase, grouped by five with dashes.
func PrincipalText(raw []byte) string {
	buf := make([]byte, principalCRCLen+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	copy(buf[principalCRCLen:], raw)

	encoded := principalEncoding.EncodeToString(buf)

	var b strings.Builder
	b.Grow(len(encoded) + len(encoded)/principalGroupLen)
	for i := 0; i < len(encoded); i += principalGroupLen {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+principalGroupLen, len(encoded))
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// PrincipalBytes decodes a principal text form, verifying grouping and CRC.
func PrincipalBytes(s string) ([]byte, bool) {
	lower := strings.ToLower(s)
	if !principalShape(lower) {
		return nil, false
	}

	decoded, err := principalEncoding.DecodeString(strings.ReplaceAll(lower, "-", ""))
	if err != nil || len(decoded) < principalCRCLen || len(decoded) > principalCRCLen+MaxPrincipalBytes {
		return nil, false
	}

	raw := decoded[principalCRCLen:]
	if binary.BigEndian.Uint32(decoded) != crc32.ChecksumIEEE(raw) {
		return nil, false
	}

	// Re-encoding rejects non-canonical trailing bits and stray characters.
	if PrincipalText(raw) != lower {
		return nil, false
	}
	return raw, true
}

func canonicalPrincipal(s string) (string, bool) {
	if _, ok := PrincipalBytes(s); !ok {
		return "", false
	}
	return strings.ToLower(s), true
}

// principalShape checks the alphabet and the 5-char dash grouping.
func principalShape(s string) bool {
	if s == "" || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}

	groupLen := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '-':
			if groupLen != principalGroupLen {
				return false
			}
			groupLen = 0
		case (ch >= 'a' && ch <= 'z') || (ch >= '2' && ch <= '7'):
			groupLen++
			if groupLen > principalGroupLen {
				return false
			}
		default:
			return false
		}
	}
	return true
}
