// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Nonce lifecycle
	IncNonceIssued()
	IncNonceConsume(outcome string) // ok, not_found, already_used, expired, error

	// Sign-in
	IncAuthentication(outcome string)

	// API key authorization
	IncAuthorization(outcome string)
	ObserveAuthorizationDuration(duration time.Duration)

	// Usage pipeline
	IncUsagePublished(status string) // status: "success" or "dropped"
	IncUsageProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveUsageBatchSize(size int)
	ObserveUsageBatchDuration(duration time.Duration)
	SetUsageQueueDepth(depth int64)
	ObserveUsageIngestLag(lag time.Duration)
}
