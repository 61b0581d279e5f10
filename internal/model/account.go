package model

import "time"

// Account is the owner of API keys, bound to exactly one address.
// Address is stored in canonical lowercase form.
type Account struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// VerifyRequest is the body of the sign-in endpoint.
type VerifyRequest struct {
	Address   string `json:"address" validate:"required,max=100"`
	Nonce     string `json:"nonce" validate:"required,len=60,hexadecimal"`
	Signature string `json:"signature" validate:"required,max=512"`
	// PublicKey is the hex DER public key, required for principal sign-in.
	PublicKey string `json:"public_key,omitempty" validate:"omitempty,hexadecimal,max=256"`
}

// VerifyResponse carries the session token issued after sign-in.
type VerifyResponse struct {
	AccessToken string    `json:"access"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccountID   string    `json:"account_id"`
	Address     string    `json:"address"`
}
