package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestValidateUsagePayload(t *testing.T) {
	valid := UsagePayload{
		KeyID:     "01HZKEY",
		Path:      "/api/v1/score/1",
		Timestamp: time.Now().UnixMilli(),
	}

	if err := ValidateUsagePayload(valid); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	cases := []struct {
		name    string
		payload UsagePayload
	}{
		{"missing_key_id", UsagePayload{Path: "/", Timestamp: 1}},
		{"key_id_too_long", UsagePayload{KeyID: strings.Repeat("k", 65), Path: "/", Timestamp: 1}},
		{"missing_path", UsagePayload{KeyID: "k", Timestamp: 1}},
		{"relative_path", UsagePayload{KeyID: "k", Path: "api", Timestamp: 1}},
		{"path_too_long", UsagePayload{KeyID: "k", Path: "/" + strings.Repeat("p", 1000), Timestamp: 1}},
		{"missing_timestamp", UsagePayload{KeyID: "k", Path: "/"}},
	}

	for _, tc := range cases {
		if err := ValidateUsagePayload(tc.payload); err == nil {
			t.Fatalf("expected error for %s", tc.name)
		}
	}
}

func TestNewConsumerID(t *testing.T) {
	t.Parallel()

	a, b := NewConsumerID(), NewConsumerID()
	if a == b {
		t.Fatalf("consumer IDs repeat: %q", a)
	}
	if a != strings.ToLower(a) {
		t.Errorf("consumer ID %q is not lowercase", a)
	}

	i := strings.LastIndexByte(a, '-')
	if i <= 0 {
		t.Fatalf("consumer ID %q has no host part", a)
	}
	if _, err := ulid.ParseStrict(strings.ToUpper(a[i+1:])); err != nil {
		t.Errorf("consumer ID %q suffix is not a ULID: %v", a, err)
	}
}
