package auth

import (
	"bytes"
	"strings"
	"testing"
)

func TestKeyGenerator_Generate(t *testing.T) {
	t.Parallel()

	key, err := NewKeyGenerator(EnvLive, TestParams).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !strings.HasPrefix(key.Plaintext, "ng_live_") {
		t.Errorf("key should start with ng_live_, got %s", key.Plaintext)
	}
	if len(key.Prefix) != KeyPrefixLen {
		t.Errorf("prefix length = %d, want %d", len(key.Prefix), KeyPrefixLen)
	}
	if !ValidateKeyFormat(key.Plaintext) {
		t.Errorf("generated key has invalid format: %s", key.Plaintext)
	}

	parsed, err := ParseAPIKey(key.Plaintext)
	if err != nil {
		t.Fatalf("ParseAPIKey failed: %v", err)
	}
	if parsed.Prefix != key.Prefix {
		t.Errorf("parsed prefix = %s, want %s", parsed.Prefix, key.Prefix)
	}

	ok, err := VerifySecret(key.Plaintext, key.Hash)
	if err != nil || !ok {
		t.Errorf("hash does not verify plaintext: %v, %v", ok, err)
	}
}

func TestKeyGenerator_Environment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env  string
		want string
	}{
		{EnvLive, "ng_live_"},
		{EnvTest, "ng_test_"},
		{"", "ng_live_"},
		{"prod", "ng_live_"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()

			key, err := NewKeyGenerator(tt.env, TestParams).Generate()
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if !strings.HasPrefix(key.Plaintext, tt.want) {
				t.Errorf("env %q: got %s, want prefix %s", tt.env, key.Plaintext, tt.want)
			}
		})
	}
}

func TestKeyGenerator_DeterministicSource(t *testing.T) {
	t.Parallel()

	g := NewKeyGenerator(EnvTest, TestParams)
	g.random = bytes.NewReader(bytes.Repeat([]byte{0xab}, 24))

	key, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	want := "ng_test_abababab_" + strings.Repeat("ab", 20)
	if key.Plaintext != want {
		t.Errorf("Plaintext = %s, want %s", key.Plaintext, want)
	}

	if _, err := g.Generate(); err == nil {
		t.Error("exhausted entropy source should fail")
	}
}

func TestKeyGenerator_Unique(t *testing.T) {
	t.Parallel()

	const n = 50
	g := NewKeyGenerator(EnvLive, TestParams)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		key, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if seen[key.Plaintext] {
			t.Fatalf("duplicate key at iteration %d", i)
		}
		seen[key.Plaintext] = true
	}
}

func TestParseAPIKey(t *testing.T) {
	t.Parallel()

	secret := strings.Repeat("4f8d2e1b", 5)

	tests := []struct {
		name       string
		key        string
		wantEnv    string
		wantPrefix string
		wantErr    error
	}{
		{"live", "ng_live_abc12345_" + secret, "live", "abc12345", nil},
		{"test", "ng_test_def45678_" + secret, "test", "def45678", nil},
		{"foreign scheme", "pk_live_abc12345_" + secret, "", "", ErrInvalidKeyFormat},
		{"unknown env", "ng_prod_abc12345_" + secret, "", "", ErrInvalidKeyFormat},
		{"short prefix", "ng_live_abc123_" + secret, "", "", ErrInvalidKeyFormat},
		{"short secret", "ng_live_abc12345_" + secret[:32], "", "", ErrInvalidKeyFormat},
		{"trailing char", "ng_live_abc12345_" + secret + "0", "", "", ErrInvalidKeyFormat},
		{"uppercase", "ng_live_ABC12345_" + strings.ToUpper(secret), "", "", ErrInvalidKeyFormat},
		{"empty", "", "", "", ErrInvalidKeyFormat},
		{"scheme only", "ng_live_", "", "", ErrInvalidKeyFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parsed, err := ParseAPIKey(tt.key)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Errorf("ParseAPIKey(%q) error = %v, want %v", tt.key, err, tt.wantErr)
				}
				if ValidateKeyFormat(tt.key) {
					t.Errorf("ValidateKeyFormat(%q) = true", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAPIKey(%q) unexpected error: %v", tt.key, err)
			}
			if parsed.Env != tt.wantEnv || parsed.Prefix != tt.wantPrefix || parsed.Secret != secret {
				t.Errorf("parsed = %+v", parsed)
			}
		})
	}
}
