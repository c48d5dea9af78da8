package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a Repository backed by the roles,
// permissions and role_permissions tables.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := r.db.SelectContext(ctx, &roles,
		`SELECT name, description FROM roles ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	_, bindings, err := r.LoadBindings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		granted := bindings[roles[i].Name]
		if granted == nil {
			granted = []string{}
		}
		roles[i].Permissions = granted
	}
	return roles, nil
}

func (r *postgresRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	if err := r.db.SelectContext(ctx, &perms,
		`SELECT name, description FROM permissions ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

func (r *postgresRepository) LoadBindings(ctx context.Context) ([]string, map[string][]string, error) {
	var permissions []string
	if err := r.db.SelectContext(ctx, &permissions,
		`SELECT name FROM permissions ORDER BY name`); err != nil {
		return nil, nil, fmt.Errorf("load permissions: %w", err)
	}

	var roleNames []string
	if err := r.db.SelectContext(ctx, &roleNames,
		`SELECT name FROM roles ORDER BY name`); err != nil {
		return nil, nil, fmt.Errorf("load roles: %w", err)
	}

	type bindingRow struct {
		Role       string `db:"role"`
		Permission string `db:"permission"`
	}
	var rows []bindingRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT role, permission FROM role_permissions ORDER BY role, permission`); err != nil {
		return nil, nil, fmt.Errorf("load role bindings: %w", err)
	}

	// A role with zero grants still exists; seed it with an empty slice so
	// lookups distinguish role_unknown from not_granted.
	bindings := make(map[string][]string, len(roleNames))
	for _, name := range roleNames {
		bindings[name] = []string{}
	}
	for _, row := range rows {
		bindings[row.Role] = append(bindings[row.Role], row.Permission)
	}
	return permissions, bindings, nil
}

func (r *postgresRepository) UpsertRole(ctx context.Context, name, description string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (name, description) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`,
		name, description)
	if err != nil {
		return fmt.Errorf("upsert role %q: %w", name, err)
	}
	return nil
}

func (r *postgresRepository) UpsertPermission(ctx context.Context, name, description string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permissions (name, description) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`,
		name, description)
	if err != nil {
		return fmt.Errorf("upsert permission %q: %w", name, err)
	}
	return nil
}

func (r *postgresRepository) Grant(ctx context.Context, role, permission string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role, permission) VALUES ($1, $2)
		 ON CONFLICT (role, permission) DO NOTHING`,
		role, permission)
	if err != nil {
		return fmt.Errorf("grant %q to %q: %w", permission, role, err)
	}
	return nil
}
