// Package middleware holds echo middleware shared by the HTTP
// services.
package middleware

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/paidflow/orchestrator/common/ratelimit"
)

// internalRequest reports whether the request comes from another
// service of the deployment. Internal callers set X-Internal-Service
// to the shared secret and bypass rate limiting.
func internalRequest(c echo.Context) bool {
	header := c.Request().Header.Get("X-Internal-Service")
	if header == "" {
		return false
	}
	secret := os.Getenv("INTERNAL_SERVICE_SECRET")
	if secret == "" {
		return false
	}
	return header == secret
}

// GlobalRateLimit caps total request throughput across all callers.
// Limiter errors fail open so a Redis outage does not take the API
// down with it.
func GlobalRateLimit(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if internalRequest(c) {
				return next(c)
			}

			result, err := limiter.CheckGlobal(c.Request().Context())
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "service is at capacity, retry later",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              "60 seconds",
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}
			return next(c)
		}
	}
}
