package repository

import "context"

// Role is a named role with its granted permissions.
type Role struct {
	Name        string   `db:"name" json:"name"`
	Description string   `db:"description" json:"description"`
	Permissions []string `json:"permissions"`
}

// Permission is a named capability.
type Permission struct {
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// Repository reads and writes the role/permission binding tables.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	LoadBindings(ctx context.Context) (permissions []string, bindings map[string][]string, err error)

	UpsertRole(ctx context.Context, name, description string) error
	UpsertPermission(ctx context.Context, name, description string) error
	Grant(ctx context.Context, role, permission string) error
}
