// Package service implements the image proxy and static file logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"gallery-proxy-go/internal/config"
	"gallery-proxy-go/internal/metrics"
	"gallery-proxy-go/internal/model"
)

var (
	// ErrInvalidTarget is returned when the url parameter is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("invalid proxy target")
	// ErrTooManyRedirects is returned when the upstream redirect chain exceeds the configured cap.
	ErrTooManyRedirects = errors.New("too many upstream redirects")
	// ErrBadRedirect is returned when an upstream Location cannot be followed.
	ErrBadRedirect = errors.New("invalid upstream redirect")
)

const (
	defaultImageContentType = "image/jpeg"
	imageCacheControl       = "public, max-age=86400"
	imageAccept             = "image/*,*/*;q=0.8"
)

// forwardableResponseHeaders are the upstream headers copied to the client
// besides the ones the proxy always sets itself.
var forwardableResponseHeaders = []string{
	"Content-Length",
	"ETag",
	"Last-Modified",
}

// Fetcher executes a single upstream hop.
type Fetcher interface {
	Do(ir *model.ImageRequest) (*model.ImageResponse, error)
}

// ImageProxyService resolves a proxy target, follows its redirect chain and
// prepares the response headers the browser needs to use the image cross-origin.
type ImageProxyService struct {
	fetcher      Fetcher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	userAgent    string
	maxRedirects int
}

// NewImageProxyService creates an ImageProxyService.
// The metrics parameter is optional; pass nil to disable redirect counting.
func NewImageProxyService(f Fetcher, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ImageProxyService {
	return &ImageProxyService{
		fetcher:      f,
		logger:       logger.With("component", "image_proxy"),
		metrics:      m,
		userAgent:    cfg.Proxy.UserAgent,
		maxRedirects: cfg.Proxy.MaxRedirects,
	}
}

// Fetch retrieves rawURL, following up to maxRedirects redirects, and returns
// the final upstream response with client-facing headers already applied.
// The caller is responsible for closing the response body.
func (s *ImageProxyService) Fetch(ctx context.Context, rawURL string) (*model.ImageResponse, error) {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	ir := &model.ImageRequest{
		Ctx:    ctx,
		Target: target,
		Header: http.Header{
			"User-Agent": {s.userAgent},
			"Accept":     {imageAccept},
		},
	}

	for hop := 0; ; hop++ {
		resp, err := s.fetcher.Do(ir)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ir.Target.Host, err)
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || location == "" {
			resp.Header = s.responseHeaders(resp.Header)
			return resp, nil
		}

		// Drain so the connection can be reused for the next hop.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		if hop >= s.maxRedirects {
			return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, s.maxRedirects)
		}

		next, err := resolveLocation(ir.Target, location)
		if err != nil {
			return nil, fmt.Errorf("follow redirect from %s: %w", ir.Target.Host, err)
		}

		s.logger.Debug("following redirect",
			"status", resp.StatusCode,
			"from_host", ir.Target.Host,
			"to_host", next.Host,
			"hop", hop+1,
		)
		if s.metrics != nil {
			s.metrics.UpstreamRedirects.Inc()
		}
		ir.Target = next
	}
}

// ParseTarget validates rawURL as an absolute http(s) URL and returns it
// upgraded to https. Outbound image fetches always travel over TLS.
func ParseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	u.User = nil
	u.Fragment = ""
	return u, nil
}

// resolveLocation resolves a Location header against the URL that produced it.
// Failures wrap ErrBadRedirect, never ErrInvalidTarget.
func resolveLocation(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRedirect, err)
	}
	next, err := ParseTarget(base.ResolveReference(ref).String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRedirect, err)
	}
	return next, nil
}

// responseHeaders builds the client-facing header set for a proxied image.
func (s *ImageProxyService) responseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}

	contentType := src.Get("Content-Type")
	if contentType == "" {
		contentType = defaultImageContentType
	}
	dst.Set("Content-Type", contentType)
	dst.Set("Access-Control-Allow-Origin", "*")
	dst.Set("Cache-Control", imageCacheControl)
	return dst
}
