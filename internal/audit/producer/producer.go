// Package producer publishes decision events to an external stream (Kafka).
// Callers use it best-effort: log and ignore errors.
package producer

import (
	"context"

	"azkaban/internal/audit/domain"
)

// Producer emits decision events. Implementations may block briefly.
type Producer interface {
	Emit(ctx context.Context, entry *domain.DecisionLog) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
