package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/model"
)

// ConsumerGroup is the consumer group every worker instance joins.
const ConsumerGroup = "usage_workers"

// deadLetterMaxLen caps the dead-letter stream.
const deadLetterMaxLen = 10000

// WorkerConfig tunes the stream worker. Zero ClaimInterval or
// MetricsInterval turns that housekeeping off.
type WorkerConfig struct {
	ConsumerID      string
	BatchSize       int
	BlockTimeout    time.Duration
	MaxAttempts     int
	RetryBase       time.Duration
	ErrorBackoff    time.Duration
	ClaimInterval   time.Duration
	ClaimIdle       time.Duration
	MetricsInterval time.Duration
}

// DefaultWorkerConfig returns the production settings for consumerID.
func DefaultWorkerConfig(consumerID string) WorkerConfig {
	return WorkerConfig{
		ConsumerID:      consumerID,
		BatchSize:       DefaultBatchSize,
		BlockTimeout:    5 * time.Second,
		MaxAttempts:     3,
		RetryBase:       time.Second,
		ErrorBackoff:    time.Second,
		ClaimInterval:   10 * time.Second,
		ClaimIdle:       30 * time.Second,
		MetricsInterval: 5 * time.Second,
	}
}

// Worker drains the usage stream into Postgres. A batch is acknowledged
// only after it is stored; EventID is the stream entry ID, so redelivery
// after a crash never double counts.
type Worker struct {
	rdb     *redis.Client
	sink    sink
	logger  *slog.Logger
	metrics metrics.Recorder
	cfg     WorkerConfig

	claimCursor string
	nextClaim   time.Time
	nextDepth   time.Time

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	stopped chan struct{}
}

// NewWorker creates a worker. Unset fields of cfg fall back to
// DefaultWorkerConfig.
func NewWorker(rdb *redis.Client, repo Repository, logger *slog.Logger, cfg WorkerConfig, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	def := DefaultWorkerConfig(cfg.ConsumerID)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}

	logger = logger.With("component", "analytics.worker", "consumer_id", cfg.ConsumerID)
	return &Worker{
		rdb:         rdb,
		sink:        sink{repo: repo, logger: logger, metrics: recorder},
		logger:      logger,
		metrics:     recorder,
		cfg:         cfg,
		claimCursor: "0-0",
	}
}

// Run consumes until ctx is cancelled or Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped != nil {
		w.mu.Unlock()
		return errors.New("usage worker already started")
	}
	w.running = true
	w.stopped = make(chan struct{})
	ctx, w.stop = context.WithCancel(ctx)
	stopped := w.stopped
	w.mu.Unlock()
	defer close(stopped)

	if err := w.joinGroup(ctx); err != nil {
		return fmt.Errorf("join consumer group: %w", err)
	}
	w.logger.Info("usage worker started", "batch_size", w.cfg.BatchSize)

	for {
		err := w.step(ctx)
		if ctx.Err() != nil {
			w.logger.Info("usage worker stopped")
			return nil
		}
		if err == nil {
			continue
		}
		w.logger.Error("usage worker step failed", "error", err)
		if !sleepCtx(ctx, w.cfg.ErrorBackoff) {
			w.logger.Info("usage worker stopped")
			return nil
		}
	}
}

// Shutdown stops Run and waits for the batch in flight. Messages of an
// interrupted batch stay pending and are reclaimed by the next worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	stop, stopped := w.stop, w.stopped
	w.mu.Unlock()
	if stop == nil {
		return nil
	}

	stop()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		w.logger.Warn("usage worker shutdown timed out")
		return ctx.Err()
	}
}

func (w *Worker) joinGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if isConsumerGroupExistsError(err) {
		return nil
	}
	return err
}

// step handles one batch: reclaimed messages first, otherwise new ones.
func (w *Worker) step(ctx context.Context) error {
	w.refreshQueueDepth(ctx)

	msgs, err := w.reclaim(ctx)
	if err != nil {
		w.logger.Warn("reclaiming pending usage failed", "error", err)
	}
	if len(msgs) == 0 {
		if msgs, err = w.read(ctx); err != nil {
			return err
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	batch := make([]*model.UsageRecord, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		rec, reason, err := decodeMessage(msg)
		if err != nil {
			w.deadLetter(ctx, msg, reason, err)
			continue
		}
		batch = append(batch, rec)
	}

	if err := w.store(ctx, batch); err != nil {
		// Left pending for redelivery.
		return err
	}
	return w.rdb.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err()
}

// decodeMessage turns a stream entry into a usage record. On failure it
// also returns the dead-letter reason.
func decodeMessage(msg redis.XMessage) (*model.UsageRecord, string, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, "invalid_format", errors.New("payload field missing or not a string")
	}
	var p UsagePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, "unmarshal_error", err
	}
	if err := ValidateUsagePayload(p); err != nil {
		return nil, "validation_error", err
	}
	return &model.UsageRecord{
		ID:        ulid.Make().String(),
		EventID:   msg.ID,
		APIKeyID:  p.KeyID,
		Path:      p.Path,
		Timestamp: time.UnixMilli(p.Timestamp).UTC(),
	}, "", nil
}

// store writes batch, backing off exponentially between attempts.
func (w *Worker) store(ctx context.Context, batch []*model.UsageRecord) error {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err = w.sink.write(ctx, batch); err == nil {
			return nil
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}
		backoff := w.cfg.RetryBase << (attempt - 1)
		w.logger.Warn("usage batch failed, retrying", "attempt", attempt, "backoff", backoff.String(), "error", err)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
	}
	w.sink.failed(len(batch))
	return err
}

func (w *Worker) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.cfg.ConsumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.cfg.BatchSize),
		Block:    w.cfg.BlockTimeout,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("xreadgroup: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

// reclaim takes over messages another consumer left pending for longer
// than ClaimIdle. The cursor walks the pending list across calls.
func (w *Worker) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	if w.cfg.ClaimInterval <= 0 || w.cfg.ClaimIdle <= 0 || time.Now().Before(w.nextClaim) {
		return nil, nil
	}
	w.nextClaim = time.Now().Add(w.cfg.ClaimInterval)

	msgs, cursor, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.cfg.ConsumerID,
		MinIdle:  w.cfg.ClaimIdle,
		Start:    w.claimCursor,
		Count:    int64(w.cfg.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if cursor != "" {
		w.claimCursor = cursor
	}
	return msgs, nil
}

func (w *Worker) refreshQueueDepth(ctx context.Context) {
	if w.cfg.MetricsInterval <= 0 || time.Now().Before(w.nextDepth) {
		return
	}
	w.nextDepth = time.Now().Add(w.cfg.MetricsInterval)

	groups, err := w.rdb.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			w.logger.Warn("reading usage group info failed", "error", err)
		}
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.metrics.SetUsageQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

// deadLetter parks a message that can never be decoded. It is still
// acknowledged on the main stream.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string, cause error) {
	w.logger.Warn("dead-lettering usage message", "message_id", msg.ID, "reason", reason, "error", cause)
	w.metrics.IncUsageProcessed("dead_lettered")

	err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           cause.Error(),
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("writing dead letter failed", "message_id", msg.ID, "error", err)
	}
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
