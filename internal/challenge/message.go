package challenge

import (
	"fmt"

	"github.com/noncegate/noncegate/internal/address"
)

const ethereumStatement = "Welcome to %s! This request will not trigger a blockchain transaction " +
	"or cost any gas fees. Your authentication status will reset in 24 hours. " +
	"Wallet Address: %s. Nonce: %s"

// Message is the exact text the holder of addr must sign for nonce.
// Ethereum wallets sign the welcome statement with the address as presented.
// Principals sign "{principal}\nNonce: {nonce}".
func Message(addr address.Address, nonce, service string) string {
	if addr.Family == address.FamilyPrincipal {
		return addr.Canonical + "\nNonce: " + nonce
	}
	return fmt.Sprintf(ethereumStatement, service, addr.Raw, nonce)
}
