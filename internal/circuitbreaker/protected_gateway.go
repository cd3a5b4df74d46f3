package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/larkind/pushrelay/internal/expo"
)

// Gateway mirrors the broadcast pipeline's gateway interface to avoid
// circular imports.
type Gateway interface {
	IsValidToken(token string) bool
	Chunk(messages []expo.Message) [][]expo.Message
	SendBatch(ctx context.Context, batch []expo.Message) ([]expo.Ticket, error)
}

// ProtectedGateway wraps a push gateway client with a CircuitBreaker.
//
// A tripped breaker surfaces as a batch-level error, which the pipeline
// already treats as non-fatal: the failed batch is recorded and the
// broadcast carries on. Token validation and chunking are pure local
// operations and pass through untouched.
type ProtectedGateway struct {
	gateway Gateway
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedGateway wraps a gateway with circuit breaker protection.
func NewProtectedGateway(gateway Gateway, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedGateway {
	return &ProtectedGateway{
		gateway: gateway,
		breaker: breaker,
		logger:  logger,
	}
}

// IsValidToken delegates to the underlying gateway.
func (p *ProtectedGateway) IsValidToken(token string) bool {
	return p.gateway.IsValidToken(token)
}

// Chunk delegates to the underlying gateway.
func (p *ProtectedGateway) Chunk(messages []expo.Message) [][]expo.Message {
	return p.gateway.Chunk(messages)
}

// SendBatch attempts one batch call through the circuit breaker.
// If the circuit is open, the batch fails fast with a *expo.BatchError
// wrapping ErrCircuitOpen.
func (p *ProtectedGateway) SendBatch(ctx context.Context, batch []expo.Message) ([]expo.Ticket, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected batch - failing fast",
			zap.String("breaker", p.breaker.config.Name),
			zap.Int("size", len(batch)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, &expo.BatchError{
			Size:  len(batch),
			Cause: fmt.Errorf("%w: push gateway unavailable", ErrCircuitOpen),
		}
	}

	tickets, err := p.gateway.SendBatch(ctx, batch)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return nil, err
	}

	p.breaker.RecordSuccess()
	return tickets, nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedGateway) Breaker() *CircuitBreaker {
	return p.breaker
}
