package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PushToken represents a registered device push address.
//
// The token string is unique across all rows regardless of the active flag:
// unregistering soft-deactivates, it never frees the uniqueness slot, so a
// later re-registration of the same string updates the existing row.
type PushToken struct {
	ID         uuid.UUID       `json:"id"`
	Token      string          `json:"token"`
	Platform   string          `json:"platform"`
	DeviceInfo json.RawMessage `json:"device_info,omitempty"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	LastUsedAt *time.Time      `json:"last_used_at,omitempty"`
}

// Platform constants
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// NotificationLog is one record per (broadcast, targeted token) pair.
// The pipeline writes it with status "sent" and never mutates it; the
// receipt/delivered/read fields exist for a future receipt-reconciliation
// step that polls the gateway.
type NotificationLog struct {
	ID           uuid.UUID       `json:"id"`
	TokenID      *uuid.UUID      `json:"token_id,omitempty"`
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	Data         json.RawMessage `json:"data,omitempty"`
	Status       string          `json:"status"`
	TicketID     *string         `json:"ticket_id,omitempty"`
	ReceiptID    *string         `json:"receipt_id,omitempty"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	SentAt       time.Time       `json:"sent_at"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	ReadAt       *time.Time      `json:"read_at,omitempty"`
}

// Notification log status constants
const (
	LogStatusSent   = "sent"
	LogStatusFailed = "failed"
)

// ErrorLog is one client-side error report, immutable once created.
type ErrorLog struct {
	ID         uuid.UUID       `json:"id"`
	TokenID    *uuid.UUID      `json:"token_id,omitempty"`
	Platform   *string         `json:"platform,omitempty"`
	ErrorType  string          `json:"error_type"`
	Message    string          `json:"message"`
	StackTrace *string         `json:"stack_trace,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	AppVersion *string         `json:"app_version,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ErrorLogFilter narrows error log queries for the admin view.
type ErrorLogFilter struct {
	ErrorType string
	Platform  string
}
