package model

import "time"

// DefaultUsagePath is recorded when a request path is unknown.
const DefaultUsagePath = "/"

// UsageRecord is an append-only fact: one API key was presented for one path.
type UsageRecord struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"` // Stream message ID for idempotency
	APIKeyID  string    `json:"api_key_id"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}
