package metrics

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	NoncesIssued    uint64
	NonceConsumes   map[string]uint64
	Authentications map[string]uint64
	Authorizations  map[string]uint64

	AuthorizationDurationCount   uint64
	AuthorizationDurationTotalNs int64

	UsagePublished        map[string]uint64
	UsageProcessed        map[string]uint64
	UsageBatchCount       uint64
	UsageQueueDepth       int64
	UsageIngestLagCount   uint64
	UsageIngestLagTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	noncesIssued                 uint64
	authorizationDurationCount   uint64
	authorizationDurationTotalNs int64
	usageBatchCount              uint64
	usageQueueDepth              int64
	usageIngestLagCount          uint64
	usageIngestLagTotalNs        int64

	mu              sync.Mutex
	nonceConsumes   map[string]uint64
	authentications map[string]uint64
	authorizations  map[string]uint64
	usagePublished  map[string]uint64
	usageProcessed  map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		nonceConsumes:   make(map[string]uint64),
		authentications: make(map[string]uint64),
		authorizations:  make(map[string]uint64),
		usagePublished:  make(map[string]uint64),
		usageProcessed:  make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		NoncesIssued:                 atomic.LoadUint64(&m.noncesIssued),
		NonceConsumes:                maps.Clone(m.nonceConsumes),
		Authentications:              maps.Clone(m.authentications),
		Authorizations:               maps.Clone(m.authorizations),
		AuthorizationDurationCount:   atomic.LoadUint64(&m.authorizationDurationCount),
		AuthorizationDurationTotalNs: atomic.LoadInt64(&m.authorizationDurationTotalNs),
		UsagePublished:               maps.Clone(m.usagePublished),
		UsageProcessed:               maps.Clone(m.usageProcessed),
		UsageBatchCount:              atomic.LoadUint64(&m.usageBatchCount),
		UsageQueueDepth:              atomic.LoadInt64(&m.usageQueueDepth),
		UsageIngestLagCount:          atomic.LoadUint64(&m.usageIngestLagCount),
		UsageIngestLagTotalNs:        atomic.LoadInt64(&m.usageIngestLagTotalNs),
	}
}

func (m *InMemoryRecorder) inc(counter map[string]uint64, label string) {
	m.mu.Lock()
	counter[label]++
	m.mu.Unlock()
}

// IncNonceIssued increments the issued counter.
func (m *InMemoryRecorder) IncNonceIssued() {
	atomic.AddUint64(&m.noncesIssued, 1)
}

// IncNonceConsume counts a consume outcome.
func (m *InMemoryRecorder) IncNonceConsume(outcome string) {
	m.inc(m.nonceConsumes, outcome)
}

// IncAuthentication counts a sign-in outcome.
func (m *InMemoryRecorder) IncAuthentication(outcome string) {
	m.inc(m.authentications, outcome)
}

// IncAuthorization counts an API key decision.
func (m *InMemoryRecorder) IncAuthorization(outcome string) {
	m.inc(m.authorizations, outcome)
}

// ObserveAuthorizationDuration records decision latency.
func (m *InMemoryRecorder) ObserveAuthorizationDuration(duration time.Duration) {
	atomic.AddUint64(&m.authorizationDurationCount, 1)
	atomic.AddInt64(&m.authorizationDurationTotalNs, duration.Nanoseconds())
}

// IncUsagePublished counts usage records handed to the pipeline.
func (m *InMemoryRecorder) IncUsagePublished(status string) {
	m.inc(m.usagePublished, status)
}

// IncUsageProcessed counts usage records leaving the pipeline.
func (m *InMemoryRecorder) IncUsageProcessed(status string) {
	m.inc(m.usageProcessed, status)
}

// ObserveUsageBatchSize counts processed batches.
func (m *InMemoryRecorder) ObserveUsageBatchSize(size int) {
	atomic.AddUint64(&m.usageBatchCount, 1)
}

// ObserveUsageBatchDuration is not tracked in memory.
func (m *InMemoryRecorder) ObserveUsageBatchDuration(duration time.Duration) {}

// SetUsageQueueDepth records the pending stream depth.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) {
	atomic.StoreInt64(&m.usageQueueDepth, depth)
}

// ObserveUsageIngestLag records the publish-to-insert lag.
func (m *InMemoryRecorder) ObserveUsageIngestLag(lag time.Duration) {
	atomic.AddUint64(&m.usageIngestLagCount, 1)
	atomic.AddInt64(&m.usageIngestLagTotalNs, lag.Nanoseconds())
}
