package signature

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/noncegate/noncegate/internal/address"
)

const (
	// EthereumSignatureLength is r || s || v.
	EthereumSignatureLength = 65

	personalMessagePrefix = "\x19Ethereum Signed Message:\n"
)

// EthereumVerifier checks personal_sign signatures by recovering the signer.
type EthereumVerifier struct{}

// Verify recovers the signing address and compares it with addr.
func (EthereumVerifier) Verify(addr address.Address, message, sig, _ []byte) error {
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if strings.ToLower(recovered) != addr.Canonical {
		return ErrBadSignature
	}
	return nil
}

// HashPersonalMessage returns keccak256 of the personal_sign envelope.
func HashPersonalMessage(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(personalMessagePrefix))
	h.Write([]byte(strconv.Itoa(len(message))))
	h.Write(message)
	return h.Sum(nil)
}

// RecoverAddress returns the checksummed address that produced sig over
// message. v may be 27/28 or 0/1.
func RecoverAddress(message, sig []byte) (string, error) {
	if len(sig) != EthereumSignatureLength {
		return "", ErrMalformed
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", ErrMalformed
	}

	// RecoverCompact wants the recovery code first.
	compact := make([]byte, EthereumSignatureLength)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, HashPersonalMessage(message))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return PublicKeyAddress(pub), nil
}

// PublicKeyAddress derives the checksummed Ethereum address of pub.
func PublicKeyAddress(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return address.ChecksumBytes(h.Sum(nil)[12:])
}

// SignPersonalMessage produces an r || s || v signature with v in {27, 28}.
// It is used by tooling and tests that act as a wallet.
func SignPersonalMessage(priv *secp256k1.PrivateKey, message []byte) []byte {
	compact := ecdsa.SignCompact(priv, HashPersonalMessage(message), false)
	sig := make([]byte, EthereumSignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}
