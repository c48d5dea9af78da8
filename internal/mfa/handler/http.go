// Package handler exposes the self-scoped MFA lifecycle over HTTP. All
// routes act on the authenticated principal; there is no admin path here.
package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"azkaban/internal/mfa/service"
	"azkaban/internal/server"
)

type HTTP struct {
	mfa *service.Service
}

func NewHTTP(mfa *service.Service) *HTTP {
	return &HTTP{mfa: mfa}
}

// RegisterRoutes mounts the MFA surface behind the mfa:manage gate.
func (h *HTTP) RegisterRoutes(app fiber.Router, gate fiber.Handler) {
	app.Post("/v1/mfa/setup", gate, h.setup)
	app.Post("/v1/mfa/verify", gate, h.verify)
	app.Post("/v1/mfa/disable", gate, h.disable)
}

func (h *HTTP) setup(c *fiber.Ctx) error {
	principal := server.PrincipalFrom(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	result, err := h.mfa.Setup(c.UserContext(), principal.UserID, principal.Email)
	if err != nil {
		return mfaError(c, err)
	}
	// The secret and URI are shown exactly once; they are not retrievable
	// after this response.
	return c.JSON(fiber.Map{
		"secret":           result.Secret,
		"provisioning_uri": result.ProvisioningURI,
		"state":            result.State,
	})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *HTTP) verify(c *fiber.Ctx) error {
	principal := server.PrincipalFrom(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	var req codeRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
	}
	assertion, err := h.mfa.Verify(c.UserContext(), principal.UserID, req.Code)
	if err != nil {
		return mfaError(c, err)
	}
	state, err := h.mfa.State(c.UserContext(), principal.UserID)
	if err != nil {
		return mfaError(c, err)
	}
	return c.JSON(fiber.Map{"assertion": assertion, "state": state})
}

func (h *HTTP) disable(c *fiber.Ctx) error {
	principal := server.PrincipalFrom(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	var req codeRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
	}
	if err := h.mfa.Disable(c.UserContext(), principal.UserID, req.Code); err != nil {
		return mfaError(c, err)
	}
	return c.JSON(fiber.Map{"state": "disabled"})
}

func mfaError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid code"})
	case errors.Is(err, service.ErrCodeAlreadyUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "code already used"})
	case errors.Is(err, service.ErrNoPendingSetup):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no pending setup"})
	case errors.Is(err, service.ErrNotEnrolled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not enrolled"})
	case errors.Is(err, service.ErrAlreadyEnrolled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already enrolled"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
