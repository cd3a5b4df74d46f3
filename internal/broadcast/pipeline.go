// Package broadcast implements the notification broadcast pipeline: token
// snapshot, address filtering, message construction, batched gateway
// dispatch, and best-effort log/state bookkeeping.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/larkind/pushrelay/internal/db"
	"github.com/larkind/pushrelay/internal/expo"
	"github.com/larkind/pushrelay/internal/metrics"
)

// TokenStore is the token registry the pipeline reads from. The pipeline
// never creates, deletes, or toggles tokens; it only snapshots the active
// set and refreshes last-used timestamps.
type TokenStore interface {
	FindActiveTokens(ctx context.Context) ([]*db.PushToken, error)
	BulkUpdateLastUsed(ctx context.Context, ids []uuid.UUID, usedAt time.Time) (int64, error)
}

// LogStore appends notification log records, one per targeted token.
type LogStore interface {
	CreateNotificationLog(ctx context.Context, entry *db.NotificationLog) error
}

// Gateway is the external push service contract: syntactic address
// validation, deterministic partitioning, and batch dispatch that either
// yields one ticket per message or fails the batch wholesale.
type Gateway interface {
	IsValidToken(token string) bool
	Chunk(messages []expo.Message) [][]expo.Message
	SendBatch(ctx context.Context, batch []expo.Message) ([]expo.Ticket, error)
}

// ValidationError rejects a broadcast request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid broadcast request: %s %s", e.Field, e.Reason)
}

// Input is one broadcast request targeting every active token.
type Input struct {
	Title    string
	Body     string
	Data     map[string]any
	Sound    string
	Badge    *int
	Priority string
}

// BatchFailure records one whole-batch dispatch failure. Batch failures are
// never fatal to the broadcast; they are collected for operator visibility.
type BatchFailure struct {
	Batch int    `json:"batch"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

// Result aggregates the outcome of one broadcast. Success is false only for
// the empty-audience case; individual batch failures do not clear it.
type Result struct {
	Success bool           `json:"success"`
	Sent    int            `json:"sent"`
	Batches int            `json:"batches"`
	Tickets []expo.Ticket  `json:"tickets"`
	Errors  []BatchFailure `json:"errors,omitempty"`
}

// Pipeline orchestrates a single broadcast invocation. It holds no state
// across calls; concurrent broadcasts are deliberately uncoordinated, the
// gateway is the rate-limiting authority.
type Pipeline struct {
	tokens  TokenStore
	logs    LogStore
	gateway Gateway
	logger  *zap.Logger
}

// New creates a broadcast pipeline with explicitly injected collaborators.
func New(tokens TokenStore, logs LogStore, gateway Gateway, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		tokens:  tokens,
		logs:    logs,
		gateway: gateway,
		logger:  logger,
	}
}

// Broadcast sends one notification to every currently active token.
//
// Batches are dispatched strictly sequentially; a failed batch is recorded
// and the next batch proceeds. One log record is written per targeted token
// regardless of its batch's outcome, and log/bookkeeping failures never
// escalate to the caller. A non-nil error is returned only for request
// validation failures and for a failed token snapshot.
func (p *Pipeline) Broadcast(ctx context.Context, input Input) (*Result, error) {
	if err := normalize(&input); err != nil {
		return nil, err
	}

	// Step 1: point-in-time snapshot of the active audience. Tokens
	// registered or deactivated after this read are not reconsidered.
	snapshot, err := p.tokens.FindActiveTokens(ctx)
	if err != nil {
		metrics.RecordBroadcast("failed")
		return nil, fmt.Errorf("load active tokens: %w", err)
	}

	if len(snapshot) == 0 {
		p.logger.Info("broadcast skipped, no active tokens")
		metrics.RecordBroadcast("empty_audience")
		return &Result{Success: false, Sent: 0, Tickets: []expo.Ticket{}}, nil
	}

	// Step 2: drop tokens that fail the gateway's address-format check.
	// They are not logged, not deactivated, and not reported as errors;
	// the counter below is the only signal they existed.
	targets := make([]*db.PushToken, 0, len(snapshot))
	for _, t := range snapshot {
		if p.gateway.IsValidToken(t.Token) {
			targets = append(targets, t)
		}
	}
	if dropped := len(snapshot) - len(targets); dropped > 0 {
		p.logger.Debug("dropped tokens with invalid address format",
			zap.Int("dropped", dropped),
			zap.Int("remaining", len(targets)),
		)
		metrics.RecordTokensFiltered(dropped)
	}

	if len(targets) == 0 {
		metrics.RecordBroadcast("empty_audience")
		return &Result{Success: false, Sent: 0, Tickets: []expo.Ticket{}}, nil
	}

	// Step 3: one message per surviving token, in snapshot order.
	messages := make([]expo.Message, len(targets))
	for i, t := range targets {
		messages[i] = expo.Message{
			To:       t.Token,
			Title:    input.Title,
			Body:     input.Body,
			Data:     input.Data,
			Sound:    input.Sound,
			Badge:    input.Badge,
			Priority: input.Priority,
		}
	}

	// Steps 4-5: partition and dispatch sequentially. A batch-level error
	// is collected and the remaining batches still go out.
	result := &Result{
		Success: true,
		Sent:    len(targets),
		Tickets: make([]expo.Ticket, 0, len(targets)),
	}

	batches := p.gateway.Chunk(messages)
	result.Batches = len(batches)
	for i, batch := range batches {
		start := time.Now()
		tickets, err := p.gateway.SendBatch(ctx, batch)
		metrics.RecordBatchDuration(time.Since(start))

		if err != nil {
			p.logger.Error("push batch dispatch failed",
				zap.Error(err),
				zap.Int("batch", i),
				zap.Int("size", len(batch)),
			)
			metrics.RecordMessagesDispatched("batch_failed", len(batch))
			result.Errors = append(result.Errors, BatchFailure{
				Batch: i,
				Size:  len(batch),
				Error: err.Error(),
			})
			continue
		}

		metrics.RecordMessagesDispatched("accepted", len(batch))
		result.Tickets = append(result.Tickets, tickets...)
	}

	// Step 6: one log record per targeted token, batch outcome
	// notwithstanding. Each write is attempted independently.
	p.writeLogs(ctx, input, targets)

	// Step 7: refresh last-used timestamps in one bulk statement.
	ids := make([]uuid.UUID, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	if _, err := p.tokens.BulkUpdateLastUsed(ctx, ids, time.Now()); err != nil {
		p.logger.Warn("failed to refresh last_used_at after broadcast",
			zap.Error(err),
			zap.Int("tokens", len(ids)),
		)
	}

	p.logger.Info("broadcast completed",
		zap.Int("sent", result.Sent),
		zap.Int("batches", len(batches)),
		zap.Int("batch_errors", len(result.Errors)),
		zap.Int("tickets", len(result.Tickets)),
	)
	metrics.RecordBroadcast("completed")

	return result, nil
}

// writeLogs appends one record per targeted token, collecting each outcome
// independently so a failed write neither aborts the rest nor the broadcast.
func (p *Pipeline) writeLogs(ctx context.Context, input Input, targets []*db.PushToken) {
	var data json.RawMessage
	if len(input.Data) > 0 {
		if encoded, err := json.Marshal(input.Data); err == nil {
			data = encoded
		}
	}

	sentAt := time.Now()
	failed := 0
	for _, t := range targets {
		tokenID := t.ID
		entry := &db.NotificationLog{
			ID:      uuid.New(),
			TokenID: &tokenID,
			Title:   input.Title,
			Body:    input.Body,
			Data:    data,
			Status:  db.LogStatusSent,
			SentAt:  sentAt,
		}

		if err := p.logs.CreateNotificationLog(ctx, entry); err != nil {
			failed++
			metrics.RecordLogWriteFailure()
			p.logger.Warn("notification log write failed",
				zap.Error(err),
				zap.String("token_id", t.ID.String()),
			)
		}
	}

	if failed > 0 {
		p.logger.Warn("broadcast log writes incomplete",
			zap.Int("failed", failed),
			zap.Int("total", len(targets)),
		)
	}
}

// normalize validates required fields and applies defaults in place.
func normalize(input *Input) error {
	if input.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if input.Body == "" {
		return &ValidationError{Field: "body", Reason: "is required"}
	}

	switch input.Priority {
	case "":
		input.Priority = expo.PriorityHigh
	case expo.PriorityDefault, expo.PriorityNormal, expo.PriorityHigh:
	default:
		return &ValidationError{Field: "priority", Reason: "must be default, normal, or high"}
	}

	if input.Sound == "" {
		input.Sound = "default"
	}
	if input.Data == nil {
		input.Data = map[string]any{}
	}

	return nil
}
