package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/rag-agent/backend/internal/api/handlers"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/internal/middleware/ratelimit"
	"github.com/rag-agent/backend/internal/middleware/validation"
)

type routes struct {
	limiter    *ratelimit.RateLimiter
	validation validation.Config

	query     *handlers.QueryHandler
	documents *handlers.DocumentHandler
	health    *handlers.HealthHandler
	ws        *handlers.WebSocketHandler
}

// registerRoutes mounts the API. Health checks are exempt from rate limiting;
// every other route, the websocket included, is limited.
func registerRoutes(app *fiber.App, r routes) {
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", r.health.Health)
	api.Get("/ready", r.health.Ready)

	if r.limiter != nil {
		api.Use(r.limiter.Middleware())
	}

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(r.ws.HandleConnection))

	api.Use(validation.Middleware(r.validation))

	api.Post("/process", r.query.HandleProcess)
	api.Post("/search", r.query.HandleSearch)

	api.Post("/documents", r.documents.CreateDocument)
	api.Get("/documents/:id", r.documents.GetDocument)
	api.Put("/documents/:id", r.documents.UpdateDocument)
	api.Delete("/documents/:id", r.documents.DeleteDocument)
}
