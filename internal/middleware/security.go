package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// proxyPath is the image proxy endpoint; its responses are meant to be
// embedded by pages on any origin.
const proxyPath = "/proxy"

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from incoming requests and sets response security headers. Gallery pages may
// only be framed by themselves; proxied images additionally carry
// Cross-Origin-Resource-Policy: cross-origin so canvas and WebGL textures on
// other origins can load them, while static files stay same-origin.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next: streamed proxy responses commit headers early.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("Referrer-Policy", "no-referrer")
			if isProxyRequest(c) {
				h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			} else {
				h.Set("Cross-Origin-Resource-Policy", "same-origin")
			}

			return next(c)
		}
	}
}

// isProxyRequest reports whether c targets the image proxy with a url
// parameter; a bare /proxy is served as a static file.
func isProxyRequest(c echo.Context) bool {
	return c.Request().URL.Path == proxyPath && c.QueryParam("url") != ""
}
