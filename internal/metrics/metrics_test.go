package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInMemoryRecorder_Counts(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncNonceIssued()
	m.IncNonceIssued()
	m.IncNonceConsume("ok")
	m.IncNonceConsume("already_used")
	m.IncNonceConsume("already_used")
	m.IncAuthorization("allowed")
	m.ObserveAuthorizationDuration(time.Millisecond)
	m.IncUsagePublished("dropped")
	m.SetUsageQueueDepth(7)

	snap := m.Snapshot()
	if snap.NoncesIssued != 2 {
		t.Errorf("NoncesIssued = %d, want 2", snap.NoncesIssued)
	}
	if snap.NonceConsumes["already_used"] != 2 {
		t.Errorf("already_used = %d, want 2", snap.NonceConsumes["already_used"])
	}
	if snap.Authorizations["allowed"] != 1 {
		t.Errorf("allowed = %d, want 1", snap.Authorizations["allowed"])
	}
	if snap.AuthorizationDurationTotalNs != int64(time.Millisecond) {
		t.Errorf("duration total = %d", snap.AuthorizationDurationTotalNs)
	}
	if snap.UsagePublished["dropped"] != 1 {
		t.Errorf("dropped = %d, want 1", snap.UsagePublished["dropped"])
	}
	if snap.UsageQueueDepth != 7 {
		t.Errorf("queue depth = %d, want 7", snap.UsageQueueDepth)
	}
}

func TestInMemoryRecorder_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncAuthentication("success")

	snap := m.Snapshot()
	snap.Authentications["success"] = 100

	if got := m.Snapshot().Authentications["success"]; got != 1 {
		t.Errorf("snapshot mutation leaked into recorder: %d", got)
	}
}

func TestPrometheusRecorder_Exposition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := NewPrometheus(reg)

	r.IncNonceIssued()
	r.IncNonceConsume("ok")
	r.IncNonceConsume("expired")
	r.IncAuthorization("rate_limited")

	if got := testutil.ToFloat64(r.noncesIssued); got != 1 {
		t.Errorf("nonces_issued_total = %v, want 1", got)
	}

	expected := `
# HELP noncegate_nonce_consumes_total Nonce consume attempts by outcome.
# TYPE noncegate_nonce_consumes_total counter
noncegate_nonce_consumes_total{outcome="expired"} 1
noncegate_nonce_consumes_total{outcome="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "noncegate_nonce_consumes_total"); err != nil {
		t.Errorf("unexpected exposition: %v", err)
	}
}

func TestRecorders_SatisfyInterface(t *testing.T) {
	var _ Recorder = NewNoop()
	var _ Recorder = NewInMemory()
	var _ Recorder = NewPrometheus(prometheus.NewRegistry())
}
