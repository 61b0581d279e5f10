package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noncegate/noncegate/internal/model"
)

// UsageRepository provides database access for API key usage records.
type UsageRepository struct {
	repo *Repository
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(repo *Repository) *UsageRepository {
	return &UsageRepository{repo: repo}
}

// BulkInsert inserts usage records with idempotency via ON CONFLICT DO NOTHING
// on the stream event ID.
func (r *UsageRepository) BulkInsert(ctx context.Context, records []*model.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO api_key_usage (id, event_id, api_key_id, path, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, record := range records {
		path := record.Path
		if path == "" {
			path = model.DefaultUsagePath
		}
		batch.Queue(query,
			record.ID,
			record.EventID,
			record.APIKeyID,
			path,
			record.Timestamp,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	// Check for errors in batch execution
	for i := 0; i < len(records); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert usage %d: %w", i, err)
		}
	}

	return nil
}

// TouchLastUsed advances last_used_at for every key seen in records. Every
// key in the batch is stamped with the batch's latest timestamp.
func (r *UsageRepository) TouchLastUsed(ctx context.Context, records []*model.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	at := records[0].Timestamp
	for _, record := range records {
		if record.Timestamp.After(at) {
			at = record.Timestamp
		}
		if _, ok := seen[record.APIKeyID]; ok {
			continue
		}
		seen[record.APIKeyID] = struct{}{}
		ids = append(ids, record.APIKeyID)
	}
	return r.repo.TouchAPIKeysLastUsed(ctx, ids, at)
}

// CountByKey returns the number of usage rows recorded for a key.
func (r *UsageRepository) CountByKey(ctx context.Context, apiKeyID string) (int64, error) {
	var count int64
	err := r.repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_key_usage WHERE api_key_id = $1`, apiKeyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}
