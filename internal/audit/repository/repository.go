package repository

import (
	"context"

	"azkaban/internal/audit/domain"
)

// Repository defines persistence for decision logs.
type Repository interface {
	Create(ctx context.Context, entry *domain.DecisionLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.DecisionLog, error)
}
