package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"azkaban/internal/authorizer"
)

// PrincipalKey is the fiber.Ctx local under which the authorized principal
// is stored for downstream handlers.
const PrincipalKey = "principal"

// MFAAssertionHeader carries the step-up proof issued by a successful MFA
// verify.
const MFAAssertionHeader = "X-MFA-Assertion"

// RequireAuthorization gates a route on a gateway decision for the fixed
// resource/action pair. External callers only ever see unauthorized or
// forbidden; the precise deny reason stays in logs and audit records.
func RequireAuthorization(gw *authorizer.Gateway, resource, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}
		d := gw.Authorize(c.UserContext(), authorizer.Request{
			Token:        token,
			Resource:     resource,
			Action:       action,
			MFAAssertion: c.Get(MFAAssertionHeader),
		})
		if !d.Allow {
			return c.Status(denyStatus(d.Reason)).JSON(fiber.Map{"error": "forbidden"})
		}
		c.Locals(PrincipalKey, d.Principal)
		return c.Next()
	}
}

// PrincipalFrom returns the principal stored by RequireAuthorization, or nil.
func PrincipalFrom(c *fiber.Ctx) *authorizer.Principal {
	p, _ := c.Locals(PrincipalKey).(*authorizer.Principal)
	return p
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func denyStatus(reason string) int {
	switch reason {
	case authorizer.ReasonTokenMalformed,
		authorizer.ReasonTokenExpired,
		authorizer.ReasonTokenBadSignature,
		authorizer.ReasonTokenWrongAudience:
		return fiber.StatusUnauthorized
	case authorizer.ReasonInternal:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusForbidden
	}
}
