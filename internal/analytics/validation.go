package analytics

import "fmt"

const maxKeyIDLength = 64

// ValidateUsagePayload validates usage payload fields.
func ValidateUsagePayload(payload UsagePayload) error {
	if payload.KeyID == "" {
		return fmt.Errorf("key_id is required")
	}
	if len(payload.KeyID) > maxKeyIDLength {
		return fmt.Errorf("key_id too long")
	}
	if payload.Path == "" || payload.Path[0] != '/' {
		return fmt.Errorf("path must start with /")
	}
	if len(payload.Path) > maxPathLength {
		return fmt.Errorf("path too long")
	}
	if payload.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be set")
	}
	return nil
}
