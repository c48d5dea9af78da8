// Package handler exposes principal management over HTTP.
package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"azkaban/internal/server"
	"azkaban/internal/user/domain"
	"azkaban/internal/user/service"
)

type HTTP struct {
	users *service.Service
}

func NewHTTP(users *service.Service) *HTTP {
	return &HTTP{users: users}
}

// Authz builds the gate for one resource/action pair; the server injects it
// so handlers stay transport-only.
type Authz func(resource, action string) fiber.Handler

// RegisterRoutes mounts the user management surface.
func (h *HTTP) RegisterRoutes(app fiber.Router, authz Authz) {
	app.Get("/v1/users", authz("users", "list"), h.list)
	app.Get("/v1/users/me", authz("users", "read_self"), h.me)
	app.Get("/v1/users/:id", authz("users", "read"), h.get)
	app.Patch("/v1/users/:id/status", authz("users", "update_status"), h.setStatus)
	app.Patch("/v1/users/:id/role", authz("users", "update_role"), h.setRole)
}

type principalResponse struct {
	ID          string     `json:"id"`
	ExternalUID string     `json:"external_uid"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Picture     string     `json:"picture,omitempty"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	MFAEnrolled bool       `json:"mfa_enrolled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

func toResponse(p *domain.Principal) principalResponse {
	return principalResponse{
		ID:          p.ID,
		ExternalUID: p.ExternalUID,
		Email:       p.Email,
		Name:        p.Name,
		Picture:     p.Picture,
		Role:        p.Role,
		IsActive:    p.IsActive,
		MFAEnrolled: p.MFAEnrolled,
		CreatedAt:   p.CreatedAt,
		LastLogin:   p.LastLogin,
	}
}

func (h *HTTP) list(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	principals, err := h.users.List(c.UserContext(), offset, limit)
	if err != nil {
		return serviceError(c, err)
	}
	out := make([]principalResponse, 0, len(principals))
	for _, p := range principals {
		out = append(out, toResponse(p))
	}
	return c.JSON(fiber.Map{"users": out})
}

func (h *HTTP) me(c *fiber.Ctx) error {
	principal := server.PrincipalFrom(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	p, err := h.users.Get(c.UserContext(), principal.UserID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toResponse(p))
}

func (h *HTTP) get(c *fiber.Ctx) error {
	p, err := h.users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toResponse(p))
}

func (h *HTTP) setStatus(c *fiber.Ctx) error {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := c.BodyParser(&body); err != nil || body.Active == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "active is required"})
	}
	p, err := h.users.SetStatus(c.UserContext(), c.Params("id"), *body.Active)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toResponse(p))
}

func (h *HTTP) setRole(c *fiber.Ctx) error {
	var body struct {
		Role string `json:"role"`
	}
	if err := c.BodyParser(&body); err != nil || body.Role == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "role is required"})
	}
	p, err := h.users.SetRole(c.UserContext(), c.Params("id"), body.Role)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(toResponse(p))
}

func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	case errors.Is(err, service.ErrUnknownRole):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown role"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
