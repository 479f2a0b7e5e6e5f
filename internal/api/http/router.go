package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-orchestrator/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Tickets *handlers.TicketsHandler
	Metrics *handlers.MetricsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	api := app.Group("/api/v1")
	api.Get("/tickets/:id/status", cfg.Tickets.Status)
	api.Post("/tickets/:id/cancel", cfg.Tickets.Cancel)
}
