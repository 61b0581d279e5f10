// Package signature verifies that a message was signed by the holder of an
// address. Each address family has its own Verifier.
package signature

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/noncegate/noncegate/internal/address"
)

var (
	// ErrBadSignature means the signature does not prove control of the address.
	ErrBadSignature = errors.New("bad signature")
	// ErrMalformed means the signature or public key could not be decoded.
	ErrMalformed = errors.New("malformed signature")
	// ErrMissingPublicKey is returned when a family needs a key the caller did not send.
	ErrMissingPublicKey = errors.New("public key required")
	// ErrUnsupportedFamily is returned when no verifier is registered for a family.
	ErrUnsupportedFamily = errors.New("unsupported address family")
)

// Verifier checks a signature over message by addr. publicKey is only used
// by families whose address does not let the key be recovered.
type Verifier interface {
	Verify(addr address.Address, message, sig, publicKey []byte) error
}

// Registry dispatches verification by address family.
type Registry struct {
	verifiers map[address.Family]Verifier
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[address.Family]Verifier)}
}

// NewDefaultRegistry registers the Ethereum verifier and, when enabled, the
// principal verifier.
func NewDefaultRegistry(principalEnabled bool) *Registry {
	r := NewRegistry()
	r.Register(address.FamilyEthereum, EthereumVerifier{})
	if principalEnabled {
		r.Register(address.FamilyPrincipal, PrincipalVerifier{})
	}
	return r
}

// Register sets the verifier for family.
func (r *Registry) Register(family address.Family, v Verifier) {
	r.verifiers[family] = v
}

// Supports reports whether family has a verifier.
func (r *Registry) Supports(family address.Family) bool {
	_, ok := r.verifiers[family]
	return ok
}

// Verify dispatches to the verifier for addr.Family.
func (r *Registry) Verify(addr address.Address, message, sig, publicKey []byte) error {
	v, ok := r.verifiers[addr.Family]
	if !ok {
		return ErrUnsupportedFamily
	}
	return v.Verify(addr, message, sig, publicKey)
}

// DecodeHex decodes a hex string with an optional 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrMalformed
	}
	return b, nil
}
