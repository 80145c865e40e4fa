package api

import (
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, handler *Handler, config *Config) {
	v1 := app.Group("/v1")

	if config.RateLimit > 0 {
		v1.Use(RateLimiter(config.RateLimit))
	}
	if config.APIKey != "" {
		v1.Use(ValidateAPIKey(config.APIKey))
	}

	apps := v1.Group("/apps/:app")

	// Commands
	apps.Post("/session", handler.Session)
	apps.Post("/pageview", handler.Pageview)
	apps.Post("/events", handler.Events)
	apps.Post("/events/:name/start", handler.StartEvent)
	apps.Post("/events/:name/end", handler.EndEvent)
	apps.Post("/user/details", handler.UserDetails)
	apps.Post("/user/data", handler.UserData)
	apps.Post("/consent", handler.Consent)
	apps.Post("/tracking", handler.Tracking)
	apps.Post("/errors", handler.LogError)
	apps.Post("/logs", handler.AddLog)
	apps.Post("/device", handler.Device)
	apps.Post("/conversions", handler.Conversion)

	// Remote config
	apps.Get("/remote-config", handler.GetRemoteConfig)
	apps.Put("/remote-config", handler.PutRemoteConfig)
	apps.Delete("/remote-config", handler.DeleteRemoteConfig)

	apps.Get("/journal/counts", handler.JournalCounts)

	// Health and metrics endpoints (no auth required)
	app.Get("/health", handler.Health)
	if config.MetricsPath != "" {
		metrics := fasthttpadaptor.NewFastHTTPHandler(telemetry.PrometheusHandler())
		app.Get(config.MetricsPath, func(c *fiber.Ctx) error {
			metrics(c.Context())
			return nil
		})
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": config.ServiceName,
			"version": "1.0.0",
			"status":  "running",
			"endpoints": fiber.Map{
				"commands": fiber.Map{
					"session":     "POST /v1/apps/:app/session",
					"pageview":    "POST /v1/apps/:app/pageview",
					"events":      "POST /v1/apps/:app/events",
					"timed_event": "POST /v1/apps/:app/events/:name/{start,end}",
					"user":        "POST /v1/apps/:app/user/{details,data}",
					"consent":     "POST /v1/apps/:app/consent",
					"tracking":    "POST /v1/apps/:app/tracking",
					"errors":      "POST /v1/apps/:app/errors",
					"logs":        "POST /v1/apps/:app/logs",
					"device":      "POST /v1/apps/:app/device",
					"conversions": "POST /v1/apps/:app/conversions",
				},
				"remote_config": "GET|PUT|DELETE /v1/apps/:app/remote-config",
				"journal":       "GET /v1/apps/:app/journal/counts",
				"health":        "GET /health",
				"metrics":       "GET " + config.MetricsPath,
			},
		})
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Endpoint not found", ErrCodeNotFound),
		)
	})
}
