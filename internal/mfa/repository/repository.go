package repository

import (
	"context"

	"azkaban/internal/mfa/domain"
)

// Repository defines persistence for TOTP credentials.
type Repository interface {
	Create(ctx context.Context, c *domain.Credential) error
	GetByUserID(ctx context.Context, userID string) (*domain.Credential, error)
	// Replace overwrites an existing credential with a fresh pending one
	// (re-setup before verification, or re-enrollment after disable).
	Replace(ctx context.Context, c *domain.Credential) error
	// MarkVerified flips the credential to enabled and records the counter
	// that verified it.
	MarkVerified(ctx context.Context, id string, counter int64) error
	// AdvanceCounter persists counter if and only if it is strictly greater
	// than the stored one. Returns false when the stored counter already
	// reached it, which is how a replayed code is detected under
	// concurrency.
	AdvanceCounter(ctx context.Context, id string, counter int64) (bool, error)
	MarkDisabled(ctx context.Context, id string) error
}
