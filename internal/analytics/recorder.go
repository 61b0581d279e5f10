package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/model"
)

const (
	// DefaultBufferSize is the capacity of the ChannelRecorder queue.
	DefaultBufferSize = 4096

	// DefaultFlushInterval is how often buffered records are written.
	DefaultFlushInterval = time.Second

	// DefaultBatchSize caps the records written per flush.
	DefaultBatchSize = 500
)

// ChannelRecorder buffers usage records in memory and writes them to the
// repository in batches. It serves single-node deployments without the
// Redis stream. Records that do not fit in the buffer are dropped.
type ChannelRecorder struct {
	sink          sink
	logger        *slog.Logger
	metrics       metrics.Recorder
	queue         chan model.UsageRecord
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannelRecorder creates a recorder with a buffer of bufferSize records.
func NewChannelRecorder(repo Repository, logger *slog.Logger, recorder metrics.Recorder, bufferSize int) *ChannelRecorder {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	logger = logger.With("component", "analytics.recorder")
	return &ChannelRecorder{
		sink:          sink{repo: repo, logger: logger, metrics: recorder},
		logger:        logger,
		metrics:       recorder,
		queue:         make(chan model.UsageRecord, bufferSize),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
}

// SetFlushInterval overrides DefaultFlushInterval.
func (r *ChannelRecorder) SetFlushInterval(interval time.Duration) {
	if interval > 0 {
		r.flushInterval = interval
	}
}

// Record enqueues rec without blocking.
func (r *ChannelRecorder) Record(rec model.UsageRecord) {
	select {
	case r.queue <- rec:
		r.metrics.IncUsagePublished("success")
	default:
		r.metrics.IncUsagePublished("dropped")
	}
}

// Run flushes buffered records until ctx is cancelled, then drains the
// buffer once more.
func (r *ChannelRecorder) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("recorder already started")
	}
	r.started = true
	r.done = make(chan struct{})
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*model.UsageRecord, 0, r.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = r.drain(batch)
			r.flush(context.WithoutCancel(ctx), batch)
			return nil
		case rec := <-r.queue:
			batch = append(batch, toStored(rec))
			if len(batch) >= r.batchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			r.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

// Shutdown stops Run and waits for the final flush.
func (r *ChannelRecorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("usage recorder shutdown timed out")
		return ctx.Err()
	}
}

func (r *ChannelRecorder) drain(batch []*model.UsageRecord) []*model.UsageRecord {
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, toStored(rec))
		default:
			return batch
		}
	}
}

// flush writes batch once; records of a failed batch are dropped.
func (r *ChannelRecorder) flush(ctx context.Context, batch []*model.UsageRecord) {
	if err := r.sink.write(ctx, batch); err != nil {
		r.logger.Error("usage flush failed", "error", err)
		r.sink.failed(len(batch))
	}
}

// toStored assigns the row and idempotency IDs a stream would otherwise
// provide.
func toStored(rec model.UsageRecord) *model.UsageRecord {
	id := ulid.Make().String()
	return &model.UsageRecord{
		ID:        id,
		EventID:   "local:" + id,
		APIKeyID:  rec.APIKeyID,
		Path:      SanitizePath(rec.Path),
		Timestamp: rec.Timestamp.UTC(),
	}
}
