// Package handler exposes the authorization gateway over HTTP. This route is
// the wire contract an upstream request router calls once per inbound
// request; it is trusted and therefore receives the full deny reason.
package handler

import (
	"github.com/gofiber/fiber/v2"

	"azkaban/internal/authorizer"
)

type HTTP struct {
	gateway *authorizer.Gateway
}

func NewHTTP(gateway *authorizer.Gateway) *HTTP {
	return &HTTP{gateway: gateway}
}

// RegisterRoutes mounts the authorize endpoint.
func (h *HTTP) RegisterRoutes(app fiber.Router) {
	app.Post("/v1/authorize", h.authorize)
}

type authorizeRequest struct {
	Token        string `json:"token"`
	Resource     string `json:"resource"`
	Action       string `json:"action"`
	MFAAssertion string `json:"mfa_assertion"`
}

func (h *HTTP) authorize(c *fiber.Ctx) error {
	var req authorizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if req.Token == "" || req.Resource == "" || req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token, resource and action are required"})
	}
	d := h.gateway.Authorize(c.UserContext(), authorizer.Request{
		Token:        req.Token,
		Resource:     req.Resource,
		Action:       req.Action,
		MFAAssertion: req.MFAAssertion,
	})
	// Always 200: the decision itself is the payload, the router maps
	// deny to its own 403.
	return c.JSON(d)
}
