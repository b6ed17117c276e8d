package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/doubt-service/internal/api/http/handlers"
	"github.com/spec-kit/doubt-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Staff          *handlers.StaffHandler
	Student        *handlers.StudentHandler
	Attachments    *handlers.AttachmentsHandler
	Metrics        nethttp.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	// Download links carry their own signature.
	app.Get("/files/:token", cfg.Attachments.Download)

	api := app.Group("/api", cfg.AuthMiddleware.Handle)
	api.Post("/staff/:action", cfg.Staff.Handle)
	api.Post("/student/:action", cfg.Student.Handle)
	api.Post("/drafts", cfg.Attachments.StageDraft)
}
