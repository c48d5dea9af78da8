// Package server assembles the HTTP app: global middleware, health check and
// lifecycle. Feature routes are registered by the composition root so this
// package stays free of feature imports.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmoiron/sqlx"

	policyengine "azkaban/internal/policy/engine"
)

// Server wraps the fiber app and its listen address.
type Server struct {
	app  *fiber.App
	addr string
}

// New builds the app with the global middleware stack and the health
// endpoint. db may be nil in tests; healthz then skips the ping.
func New(addr string, db *sqlx.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "azkaban",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-MFA-Assertion, X-Request-ID",
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${locals:requestid}\n",
	}))

	// Stash the caller address in the request context so the audit logger
	// can record it without a transport dependency.
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(context.WithValue(c.UserContext(), ipContextKey{}, c.IP()))
		return c.Next()
	})

	app.Get("/healthz", healthz(db))

	return &Server{app: app, addr: addr}
}

// App exposes the underlying fiber app for route registration.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type ipContextKey struct{}

// ClientIP returns the caller address stashed by the middleware, or
// "unknown" outside a request.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ipContextKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

func healthz(db *sqlx.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unhealthy", "db": err.Error(),
				})
			}
		}
		if err := policyengine.HealthCheck(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy", "policy": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
