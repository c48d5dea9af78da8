package repository

import (
	"context"
	"errors"

	"azkaban/internal/user/domain"
)

// ErrDuplicateExternalUID is returned by Create when another row already
// holds the external uid (the sync race loser sees this and retries as a
// lookup).
var ErrDuplicateExternalUID = errors.New("external uid already exists")

// Repository defines persistence for principals. Lookups return nil, nil for
// missing rows; errors are storage failures only.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	GetByExternalUID(ctx context.Context, externalUID string) (*domain.Principal, error)
	List(ctx context.Context, offset, limit int) ([]*domain.Principal, error)
	Create(ctx context.Context, p *domain.Principal) error
	// UpdateLoginAttributes refreshes last_login and the cached display
	// attributes from token claims; it never touches role or activation.
	UpdateLoginAttributes(ctx context.Context, p *domain.Principal) error
	SetStatus(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id, role string) error
	SetMFAEnrolled(ctx context.Context, id string, enrolled bool) error
}
