package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"

	"github.com/noncegate/noncegate/internal/address"
)

// selfAuthenticatingSuffix tags principals derived from a public key.
const selfAuthenticatingSuffix = 0x02

// PrincipalVerifier checks Ed25519 signatures for self-authenticating
// principals. The caller sends the DER public key, and the principal must
// be derived from exactly that key.
type PrincipalVerifier struct{}

// Verify checks that publicKey derives addr and signed message.
func (PrincipalVerifier) Verify(addr address.Address, message, sig, publicKey []byte) error {
	if len(publicKey) == 0 {
		return ErrMissingPublicKey
	}

	parsed, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return ErrMalformed
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return ErrMalformed
	}

	if PrincipalFromPublicKey(publicKey) != addr.Canonical {
		return ErrBadSignature
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(key, message, sig) {
		return ErrBadSignature
	}
	return nil
}

// PrincipalFromPublicKey returns the text form of the self-authenticating
// principal for a DER-encoded public key.
func PrincipalFromPublicKey(der []byte) string {
	sum := sha256.Sum224(der)
	raw := append(sum[:], selfAuthenticatingSuffix)
	return address.PrincipalText(raw)
}
