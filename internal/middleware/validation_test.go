package middleware

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestParseNonceTTL(t *testing.T) {
	t.Parallel()

	const (
		def    = 5 * time.Minute
		maxTTL = 24 * time.Hour
	)

	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr error
	}{
		{name: "empty uses default", raw: "", want: def},
		{name: "zero never expires", raw: "0", want: 0},
		{name: "seconds", raw: "60", want: time.Minute},
		{name: "padded", raw: " 30 ", want: 30 * time.Second},
		{name: "maximum", raw: "86400", want: maxTTL},
		{name: "above maximum", raw: "86401", wantErr: ErrTTLTooLong},
		{name: "overflow", raw: "9223372036854775807", wantErr: ErrTTLTooLong},
		{name: "negative", raw: "-1", wantErr: ErrTTLNegative},
		{name: "fractional", raw: "1.5", wantErr: ErrTTLInvalid},
		{name: "duration syntax", raw: "5m", wantErr: ErrTTLInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseNonceTTL(tt.raw, def, maxTTL)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseNonceTTL(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseNonceTTL(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseNonceTTL_Unbounded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr error
	}{
		{raw: "31536000", want: 365 * 24 * time.Hour},
		{raw: "9223372036", want: 9223372036 * time.Second},
		{raw: "9223372037", wantErr: ErrTTLTooLong},
		{raw: "9223372036854775807", wantErr: ErrTTLTooLong},
	}

	for _, tt := range tests {
		got, err := ParseNonceTTL(tt.raw, time.Minute, 0)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("ParseNonceTTL(%q, no max) error = %v, want %v", tt.raw, err, tt.wantErr)
		}
		if err != nil {
			continue
		}
		if got != tt.want || got < 0 {
			t.Errorf("ParseNonceTTL(%q, no max) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestValidateKeyID(t *testing.T) {
	t.Parallel()

	if err := ValidateKeyID(ulid.Make().String()); err != nil {
		t.Errorf("ValidateKeyID(ulid) error = %v", err)
	}
	for _, id := range []string{"", "not-a-ulid", strings.Repeat("Z", 26), "01J0KEY"} {
		if err := ValidateKeyID(id); !errors.Is(err, ErrKeyIDInvalid) {
			t.Errorf("ValidateKeyID(%q) error = %v, want ErrKeyIDInvalid", id, err)
		}
	}
}

func TestValidateKeyName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", nil},
		{"plain", "production scorer", nil},
		{"unicode", "clé de prod", nil},
		{"max length", strings.Repeat("a", MaxKeyNameLength), nil},
		{"too long", strings.Repeat("a", MaxKeyNameLength+1), ErrKeyNameTooLong},
		{"newline", "ci\nkey", ErrKeyNameInvalid},
		{"nul", "ci\x00", ErrKeyNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := ValidateKeyName(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKeyName(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddressParam(t *testing.T) {
	t.Parallel()

	if err := ValidateAddressParam("0x" + strings.Repeat("a", 40)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateAddressParam(strings.Repeat("a", MaxAddressLength+1)); !errors.Is(err, ErrAddressTooLong) {
		t.Errorf("error = %v, want ErrAddressTooLong", err)
	}
}
