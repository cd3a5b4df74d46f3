package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrTokenNotFound is returned when no row matches the requested token string.
var ErrTokenNotFound = errors.New("push token not found")

// Repository handles database operations for tokens, notification logs,
// and error reports
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertToken registers a push token, updating the existing row when the
// token string is already known. Re-registration resets is_active to true
// and overwrites platform and device info, keeping the original row id.
func (r *Repository) UpsertToken(ctx context.Context, token *PushToken) error {
	query := `
		INSERT INTO push_tokens (
			id, token, platform, device_info, is_active, last_used_at
		) VALUES (
			$1, $2, $3, $4, true, NOW()
		)
		ON CONFLICT (token) DO UPDATE SET
			platform = EXCLUDED.platform,
			device_info = EXCLUDED.device_info,
			is_active = true,
			last_used_at = NOW(),
			updated_at = NOW()
		RETURNING id, is_active, created_at, updated_at, last_used_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		token.ID,
		token.Token,
		token.Platform,
		token.DeviceInfo,
	).Scan(&token.ID, &token.IsActive, &token.CreatedAt, &token.UpdatedAt, &token.LastUsedAt)

	if err != nil {
		r.logger.Error("failed to upsert push token",
			zap.Error(err),
			zap.String("platform", token.Platform),
		)
		return fmt.Errorf("upsert push token: %w", err)
	}

	r.logger.Info("push token registered",
		zap.String("token_id", token.ID.String()),
		zap.String("platform", token.Platform),
	)

	return nil
}

// DeactivateTokens soft-deactivates tokens by token string and returns the
// number of rows touched. Unknown token strings are a no-op, not an error.
func (r *Repository) DeactivateTokens(ctx context.Context, tokens []string) (int64, error) {
	query := `
		UPDATE push_tokens
		SET is_active = false, updated_at = NOW()
		WHERE token = ANY($1)
	`

	result, err := r.db.Pool().Exec(ctx, query, tokens)
	if err != nil {
		r.logger.Error("failed to deactivate push tokens",
			zap.Error(err),
			zap.Int("requested", len(tokens)),
		)
		return 0, fmt.Errorf("deactivate push tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// FindActiveTokens returns a point-in-time snapshot of all active tokens
func (r *Repository) FindActiveTokens(ctx context.Context) ([]*PushToken, error) {
	query := `
		SELECT
			id, token, platform, device_info, is_active,
			created_at, updated_at, last_used_at
		FROM push_tokens
		WHERE is_active = true
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*PushToken
	for rows.Next() {
		var t PushToken
		err := rows.Scan(
			&t.ID,
			&t.Token,
			&t.Platform,
			&t.DeviceInfo,
			&t.IsActive,
			&t.CreatedAt,
			&t.UpdatedAt,
			&t.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tokens, nil
}

// GetTokenByString retrieves a token row by its token string
func (r *Repository) GetTokenByString(ctx context.Context, token string) (*PushToken, error) {
	query := `
		SELECT
			id, token, platform, device_info, is_active,
			created_at, updated_at, last_used_at
		FROM push_tokens
		WHERE token = $1
	`

	var t PushToken
	err := r.db.Pool().QueryRow(ctx, query, token).Scan(
		&t.ID,
		&t.Token,
		&t.Platform,
		&t.DeviceInfo,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.LastUsedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("query push token: %w", err)
	}

	return &t, nil
}

// BulkUpdateLastUsed refreshes last_used_at for all given token ids in one
// statement and returns the number of rows touched
func (r *Repository) BulkUpdateLastUsed(ctx context.Context, ids []uuid.UUID, usedAt time.Time) (int64, error) {
	query := `
		UPDATE push_tokens
		SET last_used_at = $1, updated_at = NOW()
		WHERE id = ANY($2)
	`

	result, err := r.db.Pool().Exec(ctx, query, usedAt, ids)
	if err != nil {
		r.logger.Error("failed to bulk update last_used_at",
			zap.Error(err),
			zap.Int("requested", len(ids)),
		)
		return 0, fmt.Errorf("bulk update last_used_at: %w", err)
	}

	return result.RowsAffected(), nil
}

// CreateNotificationLog inserts one notification log record
func (r *Repository) CreateNotificationLog(ctx context.Context, entry *NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			id, token_id, title, body, data, status,
			ticket_id, receipt_id, error_code, error_message, sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.Pool().Exec(
		ctx,
		query,
		entry.ID,
		entry.TokenID,
		entry.Title,
		entry.Body,
		entry.Data,
		entry.Status,
		entry.TicketID,
		entry.ReceiptID,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.SentAt,
	)

	if err != nil {
		r.logger.Error("failed to create notification log",
			zap.Error(err),
			zap.String("log_id", entry.ID.String()),
		)
		return fmt.Errorf("insert notification log: %w", err)
	}

	return nil
}

// ListNotificationLogs retrieves notification logs with optional status
// filtering and pagination, newest first
func (r *Repository) ListNotificationLogs(ctx context.Context, status string, limit, offset int) ([]*NotificationLog, error) {
	query := `
		SELECT
			id, token_id, title, body, data, status,
			ticket_id, receipt_id, error_code, error_message,
			sent_at, delivered_at, read_at
		FROM notification_logs
		WHERE ($1 = '' OR status = $1)
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*NotificationLog
	for rows.Next() {
		var l NotificationLog
		err := rows.Scan(
			&l.ID,
			&l.TokenID,
			&l.Title,
			&l.Body,
			&l.Data,
			&l.Status,
			&l.TicketID,
			&l.ReceiptID,
			&l.ErrorCode,
			&l.ErrorMessage,
			&l.SentAt,
			&l.DeliveredAt,
			&l.ReadAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return logs, nil
}

// CreateErrorLog inserts one client error report
func (r *Repository) CreateErrorLog(ctx context.Context, entry *ErrorLog) error {
	query := `
		INSERT INTO error_logs (
			id, token_id, platform, error_type, message,
			stack_trace, context, app_version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		entry.ID,
		entry.TokenID,
		entry.Platform,
		entry.ErrorType,
		entry.Message,
		entry.StackTrace,
		entry.Context,
		entry.AppVersion,
	).Scan(&entry.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create error log",
			zap.Error(err),
			zap.String("error_type", entry.ErrorType),
		)
		return fmt.Errorf("insert error log: %w", err)
	}

	return nil
}

// ListErrorLogs retrieves error reports matching the filter, newest first
func (r *Repository) ListErrorLogs(ctx context.Context, filter ErrorLogFilter, limit, offset int) ([]*ErrorLog, error) {
	query := `
		SELECT
			id, token_id, platform, error_type, message,
			stack_trace, context, app_version, created_at
		FROM error_logs
		WHERE ($1 = '' OR error_type = $1)
		  AND ($2 = '' OR platform = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, filter.ErrorType, filter.Platform, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query error logs: %w", err)
	}
	defer rows.Close()

	var logs []*ErrorLog
	for rows.Next() {
		var l ErrorLog
		err := rows.Scan(
			&l.ID,
			&l.TokenID,
			&l.Platform,
			&l.ErrorType,
			&l.Message,
			&l.StackTrace,
			&l.Context,
			&l.AppVersion,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan error log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return logs, nil
}

// CountErrorsByType aggregates error reports by error_type for the admin view
func (r *Repository) CountErrorsByType(ctx context.Context, filter ErrorLogFilter) (map[string]int64, error) {
	query := `
		SELECT error_type, COUNT(*)
		FROM error_logs
		WHERE ($1 = '' OR error_type = $1)
		  AND ($2 = '' OR platform = $2)
		GROUP BY error_type
	`

	rows, err := r.db.Pool().Query(ctx, query, filter.ErrorType, filter.Platform)
	if err != nil {
		return nil, fmt.Errorf("count errors by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var errorType string
		var count int64
		if err := rows.Scan(&errorType, &count); err != nil {
			return nil, fmt.Errorf("scan error count: %w", err)
		}
		counts[errorType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}
