// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog
// at debug level, tagged with the kind of resource served: "image" for
// proxied images, "file" for the static tree, "op" for operational routes.
// Proxied requests log only the path, never the target URL.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			logger.Debug("request",
				"method", req.Method,
				"path", req.URL.Path,
				"kind", requestKind(c),
				"status", res.Status,
				"content_type", res.Header().Get(echo.HeaderContentType),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

func requestKind(c echo.Context) string {
	switch p := c.Request().URL.Path; {
	case isProxyRequest(c):
		return "image"
	case p == "/healthz" || p == "/proxy/status" || p == "/metrics":
		return "op"
	default:
		return "file"
	}
}
