// seed inserts the baseline roles, permissions and bindings. Idempotent:
// every insert is an upsert, so re-running is safe.
package main

import (
	"context"
	"log"
	"time"

	"azkaban/internal/config"
	"azkaban/internal/db"
	rbacrepo "azkaban/internal/rbac/repository"
)

var permissions = []struct{ name, description string }{
	{"users:list", "List all principals"},
	{"users:read", "Read any principal"},
	{"users:read_self", "Read the caller's own principal"},
	{"users:update_status", "Activate or deactivate a principal"},
	{"users:update_role", "Change a principal's role"},
	{"mfa:manage", "Manage the caller's own MFA enrollment"},
}

var bindings = map[string][]string{
	"admin": {
		"users:list",
		"users:read",
		"users:read_self",
		"users:update_status",
		"users:update_role",
		"mfa:manage",
	},
	"user": {
		"users:read_self",
		"mfa:manage",
	},
}

var roleDescriptions = map[string]string{
	"admin": "Full user-management access",
	"user":  "Self-service access only",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := rbacrepo.NewPostgresRepository(database)

	for _, p := range permissions {
		if err := repo.UpsertPermission(ctx, p.name, p.description); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}
	for role, granted := range bindings {
		if err := repo.UpsertRole(ctx, role, roleDescriptions[role]); err != nil {
			log.Fatalf("seed: %v", err)
		}
		for _, permission := range granted {
			if err := repo.Grant(ctx, role, permission); err != nil {
				log.Fatalf("seed: %v", err)
			}
		}
	}
	log.Printf("seeded %d permissions and %d roles", len(permissions), len(bindings))
}
