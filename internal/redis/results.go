package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	resultsKey = "broadcasts:recent"

	// resultsTTL bounds how long broadcast history survives without new
	// broadcasts refreshing it.
	resultsTTL = 24 * time.Hour

	// maxResults caps the retained history.
	maxResults = 20
)

// BroadcastSummary is the cached outcome of one broadcast, kept for the
// admin view. The full ticket list lives only in the HTTP response; the
// cache stores counts.
type BroadcastSummary struct {
	Title       string    `json:"title"`
	Sent        int       `json:"sent"`
	Batches     int       `json:"batches"`
	BatchErrors int       `json:"batch_errors"`
	Tickets     int       `json:"tickets"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResultCache retains the outcomes of recent broadcasts in Redis.
type ResultCache struct {
	client *Client
	logger *zap.Logger
}

// NewResultCache creates a recent-broadcast cache.
func NewResultCache(client *Client, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		client: client,
		logger: logger,
	}
}

// Record pushes one broadcast summary onto the history list and trims it.
func (c *ResultCache) Record(ctx context.Context, summary BroadcastSummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal broadcast summary: %w", err)
	}

	pipe := c.client.rdb.Pipeline()
	pipe.LPush(ctx, resultsKey, data)
	pipe.LTrim(ctx, resultsKey, 0, maxResults-1)
	pipe.Expire(ctx, resultsKey, resultsTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record broadcast summary: %w", err)
	}

	return nil
}

// Recent returns up to limit broadcast summaries, newest first.
func (c *ResultCache) Recent(ctx context.Context, limit int) ([]BroadcastSummary, error) {
	if limit <= 0 || limit > maxResults {
		limit = maxResults
	}

	raw, err := c.client.rdb.LRange(ctx, resultsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read broadcast history: %w", err)
	}

	summaries := make([]BroadcastSummary, 0, len(raw))
	for _, item := range raw {
		var s BroadcastSummary
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			c.logger.Warn("skipping malformed broadcast summary", zap.Error(err))
			continue
		}
		summaries = append(summaries, s)
	}

	return summaries, nil
}
