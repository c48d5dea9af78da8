// Package service implements the user directory: it maps verified external
// identities to local principals and owns activation and role assignment.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"azkaban/internal/security"
	"azkaban/internal/user/domain"
	"azkaban/internal/user/repository"
)

// Sentinel errors for the directory; handlers map them to HTTP statuses.
var (
	ErrNotFound              = errors.New("user not found")
	ErrConflictOnCreate      = errors.New("conflicting create for external identity")
	ErrEmailDomainNotAllowed = errors.New("email domain is not allowed")
	ErrUnknownRole           = errors.New("role is not defined in the binding table")
)

// RoleChecker reports whether a role exists in the current binding table.
// Satisfied by the RBAC engine.
type RoleChecker interface {
	RoleExists(role string) bool
}

// CacheInvalidator drops cached authorization decisions for a user. Role,
// activation, and MFA changes must invalidate before they return.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// Service is the user directory.
type Service struct {
	repo          repository.Repository
	roles         RoleChecker
	cache         CacheInvalidator
	allowedDomain string
	nowF          func() time.Time
}

// New returns a directory over repo. roles validates SetRole targets; cache
// may be nil when decision caching is disabled. allowedDomain of "" disables
// the email-domain restriction.
func New(repo repository.Repository, roles RoleChecker, cache CacheInvalidator, allowedDomain string) *Service {
	return &Service{
		repo:          repo,
		roles:         roles,
		cache:         cache,
		allowedDomain: strings.TrimPrefix(strings.ToLower(strings.TrimSpace(allowedDomain)), "@"),
		nowF:          func() time.Time { return time.Now().UTC() },
	}
}

// Sync resolves the principal for verified claims, creating it on first
// sight. Idempotent: N calls for the same external uid yield one row and the
// same local id. Subsequent calls refresh last_login and cached display
// attributes without touching role or activation. Two concurrent first-sight
// calls are resolved by the external_uid uniqueness constraint; the loser
// retries exactly once as a lookup.
func (s *Service) Sync(ctx context.Context, claims *security.Claims) (*domain.Principal, error) {
	if err := s.checkDomain(claims.Email); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByExternalUID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	if existing != nil {
		return s.touch(ctx, existing, claims)
	}

	now := s.nowF()
	created := &domain.Principal{
		ID:          uuid.New().String(),
		ExternalUID: claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		Picture:     claims.Picture,
		Role:        domain.RoleUser,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLogin:   &now,
	}
	if err := created.Validate(); err != nil {
		return nil, err
	}
	err = s.repo.Create(ctx, created)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repository.ErrDuplicateExternalUID) {
		return nil, fmt.Errorf("create principal: %w", err)
	}

	// Lost the creation race; the winner's row must exist now.
	winner, err := s.repo.GetByExternalUID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("lookup after create race: %w", err)
	}
	if winner == nil {
		return nil, ErrConflictOnCreate
	}
	return s.touch(ctx, winner, claims)
}

// touch updates last_login and display attributes on an existing principal.
func (s *Service) touch(ctx context.Context, p *domain.Principal, claims *security.Claims) (*domain.Principal, error) {
	now := s.nowF()
	updated := *p
	updated.UpdatedAt = now
	updated.LastLogin = &now
	if claims.Name != "" {
		updated.Name = claims.Name
	}
	if claims.Picture != "" {
		updated.Picture = claims.Picture
	}
	if err := s.repo.UpdateLoginAttributes(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update login attributes: %w", err)
	}
	return &updated, nil
}

// Get returns the principal for the local user id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Principal, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// List returns principals with offset/limit paging. limit is clamped to 100.
func (s *Service) List(ctx context.Context, offset, limit int) ([]*domain.Principal, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, offset, limit)
}

// SetStatus activates or deactivates the principal and invalidates its
// cached decisions. Callers must hold users:update_status, enforced upstream.
func (s *Service) SetStatus(ctx context.Context, id string, active bool) (*domain.Principal, error) {
	if err := s.repo.SetStatus(ctx, id, active); err != nil {
		return nil, s.mapUpdateErr(err)
	}
	s.invalidate(ctx, id)
	return s.Get(ctx, id)
}

// SetRole assigns a role known to the binding table and invalidates cached
// decisions. Every user has exactly one role at all times.
func (s *Service) SetRole(ctx context.Context, id, role string) (*domain.Principal, error) {
	if s.roles != nil && !s.roles.RoleExists(role) {
		return nil, ErrUnknownRole
	}
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return nil, s.mapUpdateErr(err)
	}
	s.invalidate(ctx, id)
	return s.Get(ctx, id)
}

// SetMFAEnrolled is called by the MFA manager when enrollment state changes.
func (s *Service) SetMFAEnrolled(ctx context.Context, id string, enrolled bool) error {
	if err := s.repo.SetMFAEnrolled(ctx, id, enrolled); err != nil {
		return s.mapUpdateErr(err)
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	// Best effort: a failed invalidation is logged by the cache; the TTL
	// still bounds staleness.
	_ = s.cache.InvalidateUser(ctx, userID)
}

func (s *Service) mapUpdateErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Service) checkDomain(email string) error {
	if s.allowedDomain == "" {
		return nil
	}
	if !strings.HasSuffix(strings.ToLower(email), "@"+s.allowedDomain) {
		return ErrEmailDomainNotAllowed
	}
	return nil
}
