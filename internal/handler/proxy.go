package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"gallery-proxy-go/internal/service"
)

// queryPattern matches query strings in URLs embedded in error messages.
var queryPattern = regexp.MustCompile(`\?[^\s"]*`)

// ProxyHandler streams remote images back to the browser with CORS headers.
type ProxyHandler struct {
	service *service.ImageProxyService
	static  *StaticHandler
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. Requests to /proxy without a url
// parameter are handed to static.
func NewProxyHandler(svc *service.ImageProxyService, static *StaticHandler, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		static:  static,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the image named by the url query parameter.
func (h *ProxyHandler) Handle(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return h.static.Handle(c)
	}

	resp, err := h.service.Fetch(c.Request().Context(), target)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if c.Request().Method == http.MethodHead {
		return nil
	}

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream the status has already been sent, so the client sees a
	// truncated image; we can only log it.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming image body",
			"err", sanitizeError(err),
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrInvalidTarget) {
		h.logger.Debug("rejected proxy target", "err", sanitizeError(err))
		return c.String(http.StatusBadRequest, "Invalid url")
	}

	reason := "upstream request failed"

	var dnsErr *net.DNSError
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "upstream request timed out"
	case errors.Is(err, context.Canceled):
		reason = "client disconnected"
	case errors.Is(err, service.ErrTooManyRedirects):
		reason = "too many redirects"
	case errors.Is(err, service.ErrBadRedirect):
		reason = "invalid redirect"
	case errors.As(err, &dnsErr):
		reason = "upstream host unreachable"
	case errors.As(err, &urlErr):
		reason = "upstream connection failed"
	}

	h.logger.Error("proxy error",
		"reason", reason,
		"err", sanitizeError(err),
	)
	return c.String(http.StatusBadGateway, "Proxy error")
}

// sanitizeError strips query strings from URLs in error messages; image URLs
// often carry signed tokens there.
func sanitizeError(err error) string {
	return queryPattern.ReplaceAllString(err.Error(), "?[REDACTED]")
}
