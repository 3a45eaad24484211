package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"gallery-proxy-go/internal/service"
)

// StaticHandler serves files from the static root.
type StaticHandler struct {
	service *service.StaticService
	logger  *slog.Logger
}

// NewStaticHandler creates a StaticHandler.
func NewStaticHandler(svc *service.StaticService, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{
		service: svc,
		logger:  logger.With("component", "static_handler"),
	}
}

// Handle serves the file named by the request path; "/" maps to the index file.
func (h *StaticHandler) Handle(c echo.Context) error {
	p := c.Request().URL.Path
	if p == "" || p == "/" {
		p = h.service.Index()
	}

	f, err := h.service.Read(p)
	if err != nil {
		if errors.Is(err, service.ErrOutsideRoot) {
			h.logger.Warn("rejected static path", "path", p)
		}
		return c.String(http.StatusNotFound, "Not found")
	}

	if c.Request().Method == http.MethodHead {
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, f.ContentType)
		h.Set(echo.HeaderContentLength, strconv.Itoa(len(f.Data)))
		return c.NoContent(http.StatusOK)
	}
	return c.Blob(http.StatusOK, f.ContentType, f.Data)
}
