package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// SetupMiddleware configures all middleware for the application
func SetupMiddleware(app *fiber.App, config *Config) {
	app.Use(requestid.New())

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Browsers post analytics from any origin
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))

	if config.TelemetryEnabled {
		app.Use(telemetry.FiberMetricsMiddleware())
	}
	app.Use(telemetry.FiberLoggingMiddleware())

	app.Use(errorHandler())
	app.Use(timingMiddleware())
}

// ErrorHandler is the fiber.Config ErrorHandler, rendering errors that
// escape the middleware chain in the JSON envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(NewErrorResponse(message, errorCode(code)))
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return ErrCodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return ErrCodeInvalidRequest
	case fiber.StatusRequestTimeout:
		return ErrCodeTimeout
	case fiber.StatusTooManyRequests:
		return ErrCodeRateLimited
	case fiber.StatusUnauthorized:
		return ErrCodeUnauthorized
	default:
		return ErrCodeInternalError
	}
}

// errorHandler converts handler errors into the JSON envelope
func errorHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}

		telemetry.WithContext(c.UserContext()).WithError(err).WithFields(map[string]interface{}{
			"path":   c.Path(),
			"method": c.Method(),
		}).Warn("Request error")

		return ErrorHandler(c, err)
	}
}

// timingMiddleware adds request timing headers
func timingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		c.Set("X-Response-Time", fmt.Sprintf("%d ms", time.Since(start).Milliseconds()))
		return err
	}
}

// ValidateAPIKey creates a middleware for API key validation. The key is
// read from X-API-Key or a bearer Authorization header.
func ValidateAPIKey(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}

		key := c.Get("X-API-Key")
		if key == "" {
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(
				NewErrorResponse("Invalid or missing API key", ErrCodeUnauthorized),
			)
		}
		return c.Next()
	}
}

// RateLimiter limits each client IP to requestsPerMinute in a sliding
// window and answers 429 with the error envelope
func RateLimiter(requestsPerMinute int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               requestsPerMinute,
		Expiration:        time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(
				NewErrorResponse("Rate limit exceeded", ErrCodeRateLimited),
			)
		},
	})
}
