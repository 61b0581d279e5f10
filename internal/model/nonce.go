package model

import "time"

// Nonce is a single-use sign-in challenge.
type Nonce struct {
	Token     string     `json:"nonce"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Used      bool       `json:"-"`
	UsedAt    *time.Time `json:"-"`
}

// Expired reports whether the nonce has passed its expiry at now.
// A nonce without an expiry never expires by time.
func (n *Nonce) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// Valid reports whether the nonce can still be consumed at now.
func (n *Nonce) Valid(now time.Time) bool {
	return !n.Used && !n.Expired(now)
}

// NonceResponse is returned by the nonce issuance endpoint.
type NonceResponse struct {
	Nonce     string     `json:"nonce"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Message   string     `json:"message,omitempty"`
}
