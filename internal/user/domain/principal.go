package domain

import (
	"errors"
	"time"
)

// Principal is the resolved local identity for an external subject. One
// external uid maps to exactly one local user; ExternalUID is immutable once
// assigned. Principals are never hard-deleted, only deactivated.
type Principal struct {
	ID          string
	ExternalUID string
	Email       string
	Name        string
	Picture     string
	Role        string
	IsActive    bool
	MFAEnrolled bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLogin   *time.Time
}

// Role names seeded by default. Roles are data: the RBAC engine treats admin
// like any other role; these constants exist for seeding and defaults only.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Validate validates the principal for persistence.
func (p *Principal) Validate() error {
	if p.ExternalUID == "" {
		return errors.New("external uid is required")
	}
	if p.Email == "" {
		return errors.New("email is required")
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	return nil
}
