package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/larkind/pushrelay/internal/broadcast"
	"github.com/larkind/pushrelay/internal/db"
	"github.com/larkind/pushrelay/internal/metrics"
	"github.com/larkind/pushrelay/internal/redis"
)

// Repository defines the interface for token, log, and error report
// database operations
type Repository interface {
	UpsertToken(ctx context.Context, token *db.PushToken) error
	DeactivateTokens(ctx context.Context, tokens []string) (int64, error)
	GetTokenByString(ctx context.Context, token string) (*db.PushToken, error)
	ListNotificationLogs(ctx context.Context, status string, limit, offset int) ([]*db.NotificationLog, error)
	CreateErrorLog(ctx context.Context, entry *db.ErrorLog) error
	ListErrorLogs(ctx context.Context, filter db.ErrorLogFilter, limit, offset int) ([]*db.ErrorLog, error)
	CountErrorsByType(ctx context.Context, filter db.ErrorLogFilter) (map[string]int64, error)
}

// Broadcaster runs one broadcast against all active tokens
type Broadcaster interface {
	Broadcast(ctx context.Context, input broadcast.Input) (*broadcast.Result, error)
}

// RegisterTokenRequest is the body for POST /v1/tokens
type RegisterTokenRequest struct {
	Token      string          `json:"token"`
	Platform   string          `json:"platform"`
	DeviceInfo json.RawMessage `json:"device_info,omitempty"`
}

// UnregisterTokenRequest is the body for DELETE /v1/tokens.
// Either a single token or a list is accepted.
type UnregisterTokenRequest struct {
	Token  string   `json:"token,omitempty"`
	Tokens []string `json:"tokens,omitempty"`
}

// BroadcastRequest is the body for POST /v1/broadcasts
type BroadcastRequest struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// BroadcastResponse is returned after a broadcast attempt
type BroadcastResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	Sent    int                      `json:"sent"`
	Batches int                      `json:"batches"`
	Tickets any                      `json:"tickets"`
	Errors  []broadcast.BatchFailure `json:"errors,omitempty"`
}

// ErrorReportRequest is the body for POST /v1/errors
type ErrorReportRequest struct {
	ErrorType  string          `json:"errorType"`
	Message    string          `json:"message"`
	TokenID    string          `json:"tokenId,omitempty"`
	Platform   string          `json:"platform,omitempty"`
	StackTrace string          `json:"stackTrace,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	AppVersion string          `json:"appVersion,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	broadcaster Broadcaster
	results     *redis.ResultCache // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, broadcaster Broadcaster) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		broadcaster: broadcaster,
		results:     nil, // broadcast history disabled by default
	}
}

// NewHandlerWithResults creates a handler that also retains recent
// broadcast outcomes in Redis
func NewHandlerWithResults(logger *zap.Logger, repo Repository, broadcaster Broadcaster, results *redis.ResultCache) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		broadcaster: broadcaster,
		results:     results,
	}
}

// RegisterToken handles POST /v1/tokens.
// Re-registering a known token string updates the existing record and
// reactivates it; it never creates a duplicate.
func (h *Handler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing token", "token is required")
		return
	}

	if req.Platform != db.PlatformIOS && req.Platform != db.PlatformAndroid {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid platform", "platform must be ios or android")
		return
	}

	if len(req.DeviceInfo) > 0 && !json.Valid(req.DeviceInfo) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid device_info", "device_info must be valid JSON")
		return
	}

	token := &db.PushToken{
		ID:         uuid.New(),
		Token:      req.Token,
		Platform:   req.Platform,
		DeviceInfo: req.DeviceInfo,
	}

	if err := h.repo.UpsertToken(ctx, token); err != nil {
		h.logger.Error("failed to register push token",
			zap.Error(err),
			zap.String("platform", req.Platform),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to register token", "")
		return
	}

	metrics.RecordTokenRegistered()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": "Token registered",
		"token":   token,
	})
}

// UnregisterToken handles DELETE /v1/tokens.
// Unknown token strings are an idempotent no-op: count 0, success true.
func (h *Handler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UnregisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	tokens := req.Tokens
	if req.Token != "" {
		tokens = append(tokens, req.Token)
	}
	if len(tokens) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing token", "token or tokens is required")
		return
	}

	count, err := h.repo.DeactivateTokens(ctx, tokens)
	if err != nil {
		h.logger.Error("failed to unregister push tokens",
			zap.Error(err),
			zap.Int("requested", len(tokens)),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to unregister tokens", "")
		return
	}

	h.logger.Info("push tokens unregistered",
		zap.Int("requested", len(tokens)),
		zap.Int64("deactivated", count),
	)
	metrics.RecordTokensDeactivated(count)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"count":   count,
	})
}

// GetToken handles GET /v1/tokens?token=.
// Admin lookup of one registration by its token string, active or not.
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing token", "token query parameter is required")
		return
	}

	token, err := h.repo.GetTokenByString(ctx, tokenStr)
	if errors.Is(err, db.ErrTokenNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Token not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up push token", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to look up token", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"token":   token,
	})
}

// CreateBroadcast handles POST /v1/broadcasts
func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := h.broadcaster.Broadcast(ctx, broadcast.Input{
		Title:    req.Title,
		Body:     req.Body,
		Data:     req.Data,
		Sound:    req.Sound,
		Badge:    req.Badge,
		Priority: req.Priority,
	})

	if err != nil {
		var validationErr *broadcast.ValidationError
		if errors.As(err, &validationErr) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid broadcast request", validationErr.Error())
			return
		}

		h.logger.Error("broadcast failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "broadcast_error", "Failed to send broadcast", "")
		return
	}

	message := "Notifications sent"
	if !result.Success {
		message = "No active tokens to send to"
	}

	if h.results != nil && result.Success {
		summary := redis.BroadcastSummary{
			Title:       req.Title,
			Sent:        result.Sent,
			Batches:     result.Batches,
			BatchErrors: len(result.Errors),
			Tickets:     len(result.Tickets),
		}
		if err := h.results.Record(ctx, summary); err != nil {
			h.logger.Warn("failed to record broadcast summary", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(BroadcastResponse{
		Success: result.Success,
		Message: message,
		Sent:    result.Sent,
		Batches: result.Batches,
		Tickets: result.Tickets,
		Errors:  result.Errors,
	})
}

// RecentBroadcasts handles GET /v1/broadcasts/recent
func (h *Handler) RecentBroadcasts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := parsePagination(r, 20)

	summaries := []redis.BroadcastSummary{}
	if h.results != nil {
		var err error
		summaries, err = h.results.Recent(ctx, limit)
		if err != nil {
			h.logger.Error("failed to read broadcast history", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "cache_error", "Failed to read broadcast history", "")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  summaries,
		"count": len(summaries),
	})
}

// ListNotificationLogs handles GET /v1/logs?status=&limit=&offset=
func (h *Handler) ListNotificationLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := r.URL.Query().Get("status")
	limit, offset := parsePagination(r, 20)

	logs, err := h.repo.ListNotificationLogs(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notification logs",
			zap.Error(err),
			zap.String("status", status),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notification logs", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   logs,
		"limit":  limit,
		"offset": offset,
		"count":  len(logs),
	})
}

// CreateErrorReport handles POST /v1/errors
func (h *Handler) CreateErrorReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ErrorReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.ErrorType == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "errorType and message are required")
		return
	}

	entry := &db.ErrorLog{
		ID:        uuid.New(),
		ErrorType: req.ErrorType,
		Message:   req.Message,
	}

	if req.TokenID != "" {
		tokenID, err := uuid.Parse(req.TokenID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tokenId", "tokenId must be a valid UUID")
			return
		}
		entry.TokenID = &tokenID
	}
	if req.Platform != "" {
		entry.Platform = &req.Platform
	}
	if req.StackTrace != "" {
		entry.StackTrace = &req.StackTrace
	}
	if len(req.Context) > 0 {
		if !json.Valid(req.Context) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid context", "context must be valid JSON")
			return
		}
		entry.Context = req.Context
	}
	if req.AppVersion != "" {
		entry.AppVersion = &req.AppVersion
	}

	if err := h.repo.CreateErrorLog(ctx, entry); err != nil {
		h.logger.Error("failed to create error report",
			zap.Error(err),
			zap.String("error_type", req.ErrorType),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create error report", "")
		return
	}

	h.logger.Info("error report ingested",
		zap.String("id", entry.ID.String()),
		zap.String("error_type", req.ErrorType),
		zap.String("platform", req.Platform),
	)
	metrics.RecordErrorReport(req.Platform)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"id":      entry.ID.String(),
	})
}

// ListErrorReports handles GET /v1/errors?error_type=&platform=&limit=&offset=
func (h *Handler) ListErrorReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := db.ErrorLogFilter{
		ErrorType: r.URL.Query().Get("error_type"),
		Platform:  r.URL.Query().Get("platform"),
	}
	limit, offset := parsePagination(r, 20)

	logs, err := h.repo.ListErrorLogs(ctx, filter, limit, offset)
	if err != nil {
		h.logger.Error("failed to list error reports", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list error reports", "")
		return
	}

	counts, err := h.repo.CountErrorsByType(ctx, filter)
	if err != nil {
		h.logger.Error("failed to aggregate error reports", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to aggregate error reports", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":           logs,
		"counts_by_type": counts,
		"limit":          limit,
		"offset":         offset,
		"count":          len(logs),
	})
}

// parsePagination reads limit/offset query params with defaults,
// capping limit at 100
func parsePagination(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
