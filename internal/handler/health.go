package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"gallery-proxy-go/internal/config"
	"gallery-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	static  *service.StaticService
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, static *service.StaticService) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, static: static}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports whether the gallery entry page is servable along with the
// proxy limits. It reports "degraded" when the index file is missing; the
// static root itself is never exposed.
func (h *HealthHandler) Status(c echo.Context) error {
	index := h.static.Index()
	indexPresent := h.static.Exists(index)

	status := "ok"
	if !indexPresent {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":          status,
		"version":         string(h.version),
		"index":           index,
		"index_present":   indexPresent,
		"max_redirects":   h.cfg.Proxy.MaxRedirects,
		"timeout_seconds": h.cfg.Proxy.TimeoutSeconds,
	})
}
