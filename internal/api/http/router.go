package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/support-bot/internal/api/http/handlers"
	"github.com/spec-kit/support-bot/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Post("/auth/token", cfg.Auth.IssueToken)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireActingUser())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Get("/tickets/:id", cfg.Admin.GetTicket)
	admin.Post("/tickets/:id/reply", auth.RequireActingUser(), cfg.Admin.Reply)
	admin.Post("/tickets/:id/close", auth.RequireActingUser(), cfg.Admin.Close)
	admin.Post("/sweep", cfg.Admin.Sweep)
	admin.Get("/ratelimit", cfg.Admin.RateLimitStats)
	admin.Get("/ratelimit/:user", cfg.Admin.RateLimitStatus)
	admin.Delete("/ratelimit/:user", cfg.Admin.ClearRateLimit)
	admin.Get("/knowledge/match", cfg.Admin.MatchKnowledge)
}
