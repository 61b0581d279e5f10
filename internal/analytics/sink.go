package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/model"
)

// Repository persists usage records.
type Repository interface {
	// BulkInsert must be idempotent on EventID.
	BulkInsert(ctx context.Context, records []*model.UsageRecord) error
	TouchLastUsed(ctx context.Context, records []*model.UsageRecord) error
}

// sink writes usage batches and accounts for them. The stream worker and
// the in-process recorder share it.
type sink struct {
	repo    Repository
	logger  *slog.Logger
	metrics metrics.Recorder
}

// write stores batch. Only the insert decides success; last_used_at is a
// hint and a failure there is logged.
func (s sink) write(ctx context.Context, batch []*model.UsageRecord) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := s.repo.BulkInsert(ctx, batch); err != nil {
		return fmt.Errorf("bulk insert %d usage records: %w", len(batch), err)
	}
	if err := s.repo.TouchLastUsed(ctx, batch); err != nil {
		s.logger.Warn("failed to update key last used", "batch_size", len(batch), "error", err)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveUsageBatchSize(len(batch))
	s.metrics.ObserveUsageBatchDuration(elapsed)
	for _, rec := range batch {
		s.metrics.IncUsageProcessed("success")
		s.metrics.ObserveUsageIngestLag(time.Since(rec.Timestamp))
	}
	s.logger.Debug("usage batch written", "batch_size", len(batch), "duration_ms", float64(elapsed.Microseconds())/1000)
	return nil
}

func (s sink) failed(n int) {
	for i := 0; i < n; i++ {
		s.metrics.IncUsageProcessed("failed")
	}
}
