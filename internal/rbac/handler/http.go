// Package handler exposes the read-only binding tables over HTTP.
package handler

import (
	"github.com/gofiber/fiber/v2"

	"azkaban/internal/rbac/repository"
)

type HTTP struct {
	repo repository.Repository
}

func NewHTTP(repo repository.Repository) *HTTP {
	return &HTTP{repo: repo}
}

// RegisterRoutes mounts the binding table views behind gate.
func (h *HTTP) RegisterRoutes(app fiber.Router, gate fiber.Handler) {
	app.Get("/v1/roles", gate, h.roles)
	app.Get("/v1/permissions", gate, h.permissions)
}

func (h *HTTP) roles(c *fiber.Ctx) error {
	roles, err := h.repo.ListRoles(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(fiber.Map{"roles": roles})
}

func (h *HTTP) permissions(c *fiber.Ctx) error {
	perms, err := h.repo.ListPermissions(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(fiber.Map{"permissions": perms})
}
