package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncNonceIssued is a no-op.
func (n *NoopRecorder) IncNonceIssued() {}

// IncNonceConsume is a no-op.
func (n *NoopRecorder) IncNonceConsume(outcome string) {}

// IncAuthentication is a no-op.
func (n *NoopRecorder) IncAuthentication(outcome string) {}

// IncAuthorization is a no-op.
func (n *NoopRecorder) IncAuthorization(outcome string) {}

// ObserveAuthorizationDuration is a no-op.
func (n *NoopRecorder) ObserveAuthorizationDuration(duration time.Duration) {}

// IncUsagePublished is a no-op.
func (n *NoopRecorder) IncUsagePublished(status string) {}

// IncUsageProcessed is a no-op.
func (n *NoopRecorder) IncUsageProcessed(status string) {}

// ObserveUsageBatchSize is a no-op.
func (n *NoopRecorder) ObserveUsageBatchSize(size int) {}

// ObserveUsageBatchDuration is a no-op.
func (n *NoopRecorder) ObserveUsageBatchDuration(duration time.Duration) {}

// SetUsageQueueDepth is a no-op.
func (n *NoopRecorder) SetUsageQueueDepth(depth int64) {}

// ObserveUsageIngestLag is a no-op.
func (n *NoopRecorder) ObserveUsageIngestLag(lag time.Duration) {}
