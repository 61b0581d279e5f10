package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// Key format: ng_{env}_{prefix}_{secret}
// Example: ng_live_7a9c3e1f_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b9c7a5f3d
const (
	KeyPrefixLen = 8  // 4 random bytes, hex
	KeySecretLen = 40 // 20 random bytes, hex
)

// Environment indicators for the key.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")

	keyFormatRegex = regexp.MustCompile(`^ng_(live|test)_([a-f0-9]{8})_([a-f0-9]{40})$`)
)

// GeneratedKey is a freshly minted API key.
type GeneratedKey struct {
	Plaintext string // shown once
	Hash      string // argon2id, stored
	Prefix    string // lookup index
}

// KeyGenerator mints API keys for one environment.
type KeyGenerator struct {
	env    string
	params Params
	random io.Reader
}

// NewKeyGenerator returns a generator. Unknown environments fall back to live.
func NewKeyGenerator(env string, params Params) *KeyGenerator {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}
	return &KeyGenerator{env: env, params: params, random: rand.Reader}
}

// Generate creates a new key and its hash.
func (g *KeyGenerator) Generate() (*GeneratedKey, error) {
	buf := make([]byte, KeyPrefixLen/2+KeySecretLen/2)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	prefix := hex.EncodeToString(buf[:KeyPrefixLen/2])
	secret := hex.EncodeToString(buf[KeyPrefixLen/2:])

	plaintext := fmt.Sprintf("ng_%s_%s_%s", g.env, prefix, secret)

	hash, err := HashSecret(plaintext, g.params)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    prefix,
	}, nil
}

// ParsedKey contains the parsed parts of an API key.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// ParseAPIKey splits a presented key into its parts.
func ParseAPIKey(key string) (*ParsedKey, error) {
	matches := keyFormatRegex.FindStringSubmatch(key)
	if matches == nil {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{
		Env:    matches[1],
		Prefix: matches[2],
		Secret: matches[3],
	}, nil
}

// ValidateKeyFormat reports whether key has the expected shape.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
