// Package model defines domain entities for the application.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Capability names an independent permission carried by an API key.
type Capability string

// Capability constants for API key authorization.
const (
	CapabilitySubmit        Capability = "submit"
	CapabilityRead          Capability = "read"
	CapabilityCreateScorers Capability = "create_scorers"
)

// ValidCapabilities contains all valid capability values.
var ValidCapabilities = []Capability{CapabilitySubmit, CapabilityRead, CapabilityCreateScorers}

// Tier is the rate-limit class attached to an API key.
// The zero value is not a valid tier.
type Tier uint8

// Tier constants. Quotas live in the ratelimit package.
const (
	Tier1 Tier = iota + 1
	Tier2
	Tier3
	TierUnlimited
)

// DefaultTier is assigned to newly created keys.
const DefaultTier = Tier1

// ErrInvalidTier is returned when parsing an unknown tier name.
var ErrInvalidTier = errors.New("invalid rate limit tier")

var tierNames = map[Tier]string{
	Tier1:         "TIER_1",
	Tier2:         "TIER_2",
	Tier3:         "TIER_3",
	TierUnlimited: "UNLIMITED",
}

// ValidTiers lists every tier in ascending quota order.
var ValidTiers = []Tier{Tier1, Tier2, Tier3, TierUnlimited}

// String returns the canonical tier name, e.g. "TIER_1".
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", uint8(t))
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// ParseTier converts a canonical tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	for tier, name := range tierNames {
		if name == s {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Capabilities holds the capability flags of a key. Flags are independent.
type Capabilities struct {
	Submit        bool `json:"submit"`
	Read          bool `json:"read"`
	CreateScorers bool `json:"create_scorers"`
}

// DefaultCapabilities returns the flags given to a new key.
func DefaultCapabilities() Capabilities {
	return Capabilities{Submit: true, Read: true, CreateScorers: false}
}

// Allows reports whether the capability flag is enabled.
func (c Capabilities) Allows(capability Capability) bool {
	switch capability {
	case CapabilitySubmit:
		return c.Submit
	case CapabilityRead:
		return c.Read
	case CapabilityCreateScorers:
		return c.CreateScorers
	default:
		return false
	}
}

// APIKey represents an API key entity.
type APIKey struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"account_id"`
	KeyHash      string       `json:"-"` // Never serialize
	KeyPrefix    string       `json:"key_prefix"`
	Capabilities Capabilities `json:"capabilities"`
	Tier         Tier         `json:"tier"`
	Name         string       `json:"name,omitempty"`
	RevokedAt    *time.Time   `json:"revoked_at,omitempty"`
	LastUsedAt   *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsRevoked returns true if the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Principal returns the authorization view of the key.
func (k *APIKey) Principal() *Principal {
	return &Principal{
		KeyID:        k.ID,
		KeyPrefix:    k.KeyPrefix,
		AccountID:    k.AccountID,
		Capabilities: k.Capabilities,
		Tier:         k.Tier,
		Revoked:      k.IsRevoked(),
	}
}

// Principal is the resolved identity behind a presented API key.
// It is injected into the request context by the API key middleware.
type Principal struct {
	KeyID        string       `json:"key_id"`
	KeyPrefix    string       `json:"key_prefix"`
	AccountID    string       `json:"account_id"`
	Capabilities Capabilities `json:"capabilities"`
	Tier         Tier         `json:"tier"`
	Revoked      bool         `json:"revoked,omitempty"`
}

// APIKeyCreateRequest represents a request to create a new API key.
type APIKeyCreateRequest struct {
	Name         string        `json:"name" validate:"max=100"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// APIKeyUpdateRequest represents a partial update of an API key.
type APIKeyUpdateRequest struct {
	Name         *string       `json:"name,omitempty" validate:"omitempty,max=100"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	Tier         *Tier         `json:"tier,omitempty"`
}

// APIKeyResponse represents the response for an API key (without secrets).
type APIKeyResponse struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	KeyPrefix    string       `json:"key_prefix"`
	Capabilities Capabilities `json:"capabilities"`
	Tier         Tier         `json:"tier"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUsedAt   *time.Time   `json:"last_used_at,omitempty"`
	Revoked      bool         `json:"revoked"`
}

// ToResponse converts an APIKey to APIKeyResponse.
func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:           k.ID,
		Name:         k.Name,
		KeyPrefix:    k.KeyPrefix,
		Capabilities: k.Capabilities,
		Tier:         k.Tier,
		CreatedAt:    k.CreatedAt,
		LastUsedAt:   k.LastUsedAt,
		Revoked:      k.IsRevoked(),
	}
}

// APIKeyCreateResponse includes the plaintext key (shown only once).
type APIKeyCreateResponse struct {
	APIKeyResponse
	Key string `json:"key"` // Plaintext - display once only!
}

// APIKeyRotateResponse includes both old and new key information.
type APIKeyRotateResponse struct {
	OldKeyID        string               `json:"old_key_id"`
	OldKeyRevokedAt time.Time            `json:"old_key_revoked_at"`
	NewKey          APIKeyCreateResponse `json:"new_key"`
}
