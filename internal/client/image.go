// Package client provides the outbound HTTP client used by the image proxy.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"gallery-proxy-go/internal/config"
	"gallery-proxy-go/internal/metrics"
	"gallery-proxy-go/internal/model"
)

// ImageClient performs single-hop GET requests against remote image hosts.
// It never follows redirects itself; the caller decides what to do with a 3xx.
type ImageClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewImageClient creates an ImageClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewImageClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ImageClient {
	connectTimeout := time.Duration(cfg.Proxy.ConnectTimeoutSeconds) * time.Second

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Proxy.IdleConnections,
		MaxIdleConnsPerHost: cfg.Proxy.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: connectTimeout,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return NewImageClientWithHTTP(&http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Proxy.TimeoutSeconds) * time.Second,
	}, logger, m)
}

// NewImageClientWithHTTP wraps an existing *http.Client, e.g. one that trusts
// an httptest TLS server. Redirect following is disabled on the given client.
func NewImageClientWithHTTP(hc *http.Client, logger *slog.Logger, m *metrics.Metrics) *ImageClient {
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &ImageClient{
		httpClient: hc,
		logger:     logger.With("component", "image_client"),
		metrics:    m,
	}
}

// Do executes one upstream hop and returns the raw response.
// The caller is responsible for closing the response body. The request
// context controls the lifetime of the hop: when the inbound client goes
// away, the upstream request is canceled too.
func (c *ImageClient) Do(ir *model.ImageRequest) (*model.ImageResponse, error) {
	req, err := http.NewRequestWithContext(ir.Ctx, http.MethodGet, ir.Target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if ir.Header != nil {
		req.Header = ir.Header.Clone()
	}

	c.logger.Debug("upstream request", "host", ir.Target.Host)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ImageResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(duration)
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamResponses.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ImageResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
