// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ImageRequest represents one outbound fetch of a proxied image. A redirect
// chain reuses the same request with Target replaced at each hop.
type ImageRequest struct {
	Ctx    context.Context
	Target *url.URL
	Header http.Header
}

// ImageResponse represents the upstream response to be streamed back.
type ImageResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
