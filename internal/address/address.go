// Package address validates and normalizes the identity addresses accepted
// at sign-in: Ethereum accounts and Internet Computer principals.
package address

import (
	"errors"
	"strings"
)

// MaxLength bounds any input before pattern matching.
// It also matches the width of the accounts.address column.
const MaxLength = 100

// Family identifies an address format.
type Family string

// Supported address families.
const (
	FamilyEthereum  Family = "ethereum"
	FamilyPrincipal Family = "principal"
)

// ErrInvalidAddress is returned for any malformed or mis-checksummed input.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a validated identity string.
type Address struct {
	Family Family
	// Raw is the input as presented, including its original casing.
	Raw string
	// Canonical is the lowercase storage form.
	Canonical string
}

// String returns the canonical form.
func (a Address) String() string {
	return a.Canonical
}

// Parse validates s and returns its family and canonical form.
func Parse(s string) (Address, error) {
	if s == "" || len(s) > MaxLength {
		return Address{}, ErrInvalidAddress
	}

	if hasHexPrefix(s) {
		if !validEthereum(s) {
			return Address{}, ErrInvalidAddress
		}
		return Address{
			Family:    FamilyEthereum,
			Raw:       s,
			Canonical: "0x" + strings.ToLower(s[2:]),
		}, nil
	}

	canonical, ok := canonicalPrincipal(s)
	if !ok {
		return Address{}, ErrInvalidAddress
	}
	return Address{
		Family:    FamilyPrincipal,
		Raw:       s,
		Canonical: canonical,
	}, nil
}

// IsValid reports whether s is a well-formed address of a supported family.
// It never panics and does no work beyond MaxLength bytes.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Normalize returns the canonical lowercase form of a valid address.
func Normalize(s string) (string, error) {
	addr, err := Parse(s)
	if err != nil {
		return "", err
	}
	return addr.Canonical, nil
}

func hasHexPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
