// Package analytics records API key usage: publishing usage records to a
// Redis stream and persisting them in batches.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noncegate/noncegate/internal/metrics"
	"github.com/noncegate/noncegate/internal/model"
)

const (
	// StreamKey is the Redis stream for usage records.
	StreamKey = "stream:api_key_usage"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:api_key_usage:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond

	maxPathLength = 1000
)

// UsagePayload is the compressed record format for the Redis stream.
type UsagePayload struct {
	KeyID     string `json:"k"`
	Path      string `json:"p"`
	Timestamp int64  `json:"t"` // Unix milliseconds
}

// NewUsagePayload converts a usage record to its stream form.
func NewUsagePayload(rec model.UsageRecord) UsagePayload {
	return UsagePayload{
		KeyID:     rec.APIKeyID,
		Path:      SanitizePath(rec.Path),
		Timestamp: rec.Timestamp.UnixMilli(),
	}
}

// Publisher enqueues usage records to a Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "analytics.publisher"),
		metrics: recorder,
	}
}

// Publish adds a usage record to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, payload UsagePayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal usage: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",  // Auto-generate ID
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(payload UsagePayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, payload)
		if err != nil {
			p.logger.Warn("failed to publish usage record",
				"key_id", payload.KeyID,
				"error", err,
			)
			p.metrics.IncUsagePublished("dropped")
			return
		}

		p.logger.Debug("usage record published",
			"key_id", payload.KeyID,
			"stream_id", streamID,
		)
		p.metrics.IncUsagePublished("success")
	}()
}

// Record publishes rec asynchronously. It never blocks the caller.
func (p *Publisher) Record(rec model.UsageRecord) {
	p.PublishAsync(NewUsagePayload(rec))
}

// SanitizePath strips the query string and fragment, truncates long paths
// without splitting a %XX escape, and defaults an empty path to "/".
func SanitizePath(path string) string {
	if path == "" {
		return model.DefaultUsagePath
	}

	parsed, err := url.Parse(path)
	if err != nil || parsed.Path == "" {
		return model.DefaultUsagePath
	}

	sanitized := parsed.EscapedPath()
	if sanitized[0] != '/' {
		sanitized = "/" + sanitized
	}
	if len(sanitized) > maxPathLength {
		return truncateEscaped(sanitized, maxPathLength)
	}
	return sanitized
}

// truncateEscaped cuts an escaped path to at most n bytes, backing off when
// the cut would land inside a %XX escape.
func truncateEscaped(path string, n int) string {
	cut := n
	if i := strings.LastIndexByte(path[:cut], '%'); i >= 0 && cut-i < 3 {
		cut = i
	}
	return path[:cut]
}
