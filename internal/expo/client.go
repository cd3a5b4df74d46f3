// Package expo implements a client for the Expo push gateway's HTTP API.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchSize is the gateway's documented maximum messages per request.
const DefaultBatchSize = 100

const sendPath = "/--/api/v2/push/send"

// Priority values accepted by the gateway.
const (
	PriorityDefault = "default"
	PriorityNormal  = "normal"
	PriorityHigh    = "high"
)

// Message is one outbound push message addressed to a single token.
type Message struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// Ticket is the gateway's synchronous per-message acknowledgment,
// distinct from an asynchronous delivery receipt.
type Ticket struct {
	Status  string        `json:"status"`
	ID      string        `json:"id,omitempty"`
	Message string        `json:"message,omitempty"`
	Details TicketDetails `json:"details,omitempty"`
}

// TicketDetails carries the gateway's machine-readable error code.
type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// TicketStatusOK is the status of an accepted message.
const TicketStatusOK = "ok"

// BatchError reports a whole-batch dispatch failure. The gateway gives no
// partial-batch result: when the call fails, every message in the batch is
// unaccounted for.
type BatchError struct {
	Size       int
	StatusCode int
	Cause      error
}

func (e *BatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("push gateway batch of %d failed: status %d: %v", e.Size, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("push gateway batch of %d failed: %v", e.Size, e.Cause)
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}

// Config holds gateway client settings.
type Config struct {
	BaseURL   string
	BatchSize int
	Timeout   time.Duration
}

// Client talks to the Expo push API. Construct one at process start and
// inject it wherever dispatch is needed; it is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	batchSize  int
	logger     *zap.Logger
}

// NewClient creates a push gateway client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://exp.host"
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		batchSize:  batchSize,
		logger:     logger,
	}
}

// BatchSize returns the configured maximum batch size.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// IsValidToken reports whether a token string has the gateway's address
// format. This is a syntactic check only, not a liveness check.
func (c *Client) IsValidToken(token string) bool {
	return IsExpoPushToken(token)
}

// IsExpoPushToken reports whether the string looks like a gateway-issued
// push token: ExponentPushToken[...] or ExpoPushToken[...] with a non-empty
// body.
func IsExpoPushToken(token string) bool {
	var inner string
	switch {
	case strings.HasPrefix(token, "ExponentPushToken[") && strings.HasSuffix(token, "]"):
		inner = token[len("ExponentPushToken[") : len(token)-1]
	case strings.HasPrefix(token, "ExpoPushToken[") && strings.HasSuffix(token, "]"):
		inner = token[len("ExpoPushToken[") : len(token)-1]
	default:
		return false
	}
	return inner != "" && !strings.ContainsAny(inner, "[]")
}

// Chunk partitions messages into batches of at most the configured size.
// Pure and deterministic: order within and across batches follows the input.
func (c *Client) Chunk(messages []Message) [][]Message {
	if len(messages) == 0 {
		return nil
	}

	batches := make([][]Message, 0, (len(messages)+c.batchSize-1)/c.batchSize)
	for start := 0; start < len(messages); start += c.batchSize {
		end := start + c.batchSize
		if end > len(messages) {
			end = len(messages)
		}
		batches = append(batches, messages[start:end])
	}
	return batches
}

// sendResponse is the gateway's envelope for a batch submission.
type sendResponse struct {
	Data   []Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// SendBatch submits one batch and returns one ticket per message, in
// submission order. Any transport, status, or envelope problem fails the
// whole batch with a *BatchError.
func (c *Client) SendBatch(ctx context.Context, batch []Message) ([]Ticket, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > c.batchSize {
		return nil, &BatchError{
			Size:  len(batch),
			Cause: fmt.Errorf("batch of %d exceeds gateway limit of %d", len(batch), c.batchSize),
		}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, &BatchError{Size: len(batch), Cause: fmt.Errorf("marshal batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return nil, &BatchError{Size: len(batch), Cause: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Accept-Encoding is left to the transport so it transparently
	// decompresses gzipped gateway responses.

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BatchError{Size: len(batch), Cause: fmt.Errorf("gateway request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &BatchError{
			Size:       len(batch),
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("gateway returned non-2xx status: %s", string(preview)),
		}
	}

	var envelope sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &BatchError{
			Size:       len(batch),
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("decode gateway response: %w", err),
		}
	}

	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		return nil, &BatchError{
			Size:       len(batch),
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("gateway rejected batch: %s: %s", first.Code, first.Message),
		}
	}

	// The gateway promises one ticket per message in submission order;
	// anything else means the batch result cannot be trusted.
	if len(envelope.Data) != len(batch) {
		return nil, &BatchError{
			Size:       len(batch),
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("gateway returned %d tickets for %d messages", len(envelope.Data), len(batch)),
		}
	}

	c.logger.Debug("push batch dispatched",
		zap.Int("size", len(batch)),
		zap.Int("status", resp.StatusCode),
	)

	return envelope.Data, nil
}
