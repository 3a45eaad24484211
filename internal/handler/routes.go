// Package handler implements the HTTP surface: request routing, the image
// proxy endpoint, static file serving and health probes.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gallery-proxy-go/internal/config"
	"gallery-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// m may be nil, in which case no metrics endpoint is exposed.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, static *StaticHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if m != nil && cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	methods := []string{http.MethodGet, http.MethodHead}
	e.Match(methods, "/proxy", proxy.Handle)
	e.Match(methods, "/*", static.Handle)
}
