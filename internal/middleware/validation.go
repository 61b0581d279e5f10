package middleware

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
)

// Validation limits.
const (
	// MaxKeyNameLength is the maximum length for an API key name.
	MaxKeyNameLength = 100

	// MaxAddressLength bounds the address query parameter before parsing.
	MaxAddressLength = 100

	maxTTLSeconds = int64(math.MaxInt64 / time.Second)
)

// Validation errors.
var (
	ErrTTLInvalid     = errors.New("ttl must be a whole number of seconds")
	ErrTTLNegative    = errors.New("ttl must not be negative")
	ErrTTLTooLong     = errors.New("ttl exceeds the maximum")
	ErrKeyIDInvalid   = errors.New("key id is not a valid identifier")
	ErrKeyNameTooLong = errors.New("key name exceeds maximum length")
	ErrKeyNameInvalid = errors.New("key name contains control characters")
	ErrAddressTooLong = errors.New("address exceeds maximum length")
)

// ParseNonceTTL parses the ttl query parameter in seconds. An empty value
// returns def; zero means the nonce never expires.
func ParseNonceTTL(raw string, def, maxTTL time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrTTLInvalid
	}
	if secs < 0 {
		return 0, ErrTTLNegative
	}
	// Bound secs before converting so the duration cannot overflow.
	if secs > maxTTLSeconds {
		return 0, ErrTTLTooLong
	}
	ttl := time.Duration(secs) * time.Second
	if maxTTL > 0 && ttl > maxTTL {
		return 0, ErrTTLTooLong
	}
	return ttl, nil
}

// ValidateKeyID checks that id is a ULID as issued for API keys.
func ValidateKeyID(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return ErrKeyIDInvalid
	}
	return nil
}

// ValidateKeyName rejects overlong names and control characters.
func ValidateKeyName(name string) error {
	if len(name) > MaxKeyNameLength {
		return ErrKeyNameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrKeyNameInvalid
		}
	}
	return nil
}

// ValidateAddressParam bounds an address before it reaches the parser.
func ValidateAddressParam(addr string) error {
	if len(addr) > MaxAddressLength {
		return ErrAddressTooLong
	}
	return nil
}
