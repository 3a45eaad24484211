package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"gallery-proxy-go/internal/client"
	"gallery-proxy-go/internal/config"
	"gallery-proxy-go/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandlers builds the proxy and static handlers. When upstream is
// non-nil the image client trusts its TLS certificate.
func newTestHandlers(t *testing.T, upstream *httptest.Server, root string) (*ProxyHandler, *StaticHandler) {
	t.Helper()
	logger := discardLogger()
	cfg := &config.Config{
		Static: config.StaticConfig{Root: root, Index: "index.html"},
		Proxy: config.ProxyConfig{
			UserAgent:             "Mozilla/5.0 (Art Gallery Proxy)",
			TimeoutSeconds:        5,
			ConnectTimeoutSeconds: 2,
			MaxRedirects:          5,
			IdleConnections:       10,
		},
	}

	var ic *client.ImageClient
	if upstream != nil {
		ic = client.NewImageClientWithHTTP(upstream.Client(), logger, nil)
	} else {
		ic = client.NewImageClient(cfg, logger, nil)
	}

	ss, err := service.NewStaticService(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewStaticService: %v", err)
	}
	static := NewStaticHandler(ss, logger)
	proxy := NewProxyHandler(service.NewImageProxyService(ic, cfg, logger, nil), static, logger)
	return proxy, static
}

func proxyRequest(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), http.NoBody)
}

func TestProxyHandler_Handle_Image(t *testing.T) {
	payload := []byte("\xff\xd8\xff\xe0 fake jpeg \x00\x01\x02")
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.jpg" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/a.jpg")
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Set-Cookie", "tracking=1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, upstream, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest(upstream.URL+"/a.jpg"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want %q", ct, "image/jpeg")
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Cache-Control"); v != "public, max-age=86400" {
		t.Errorf("Cache-Control = %q, want %q", v, "public, max-age=86400")
	}
	if v := rec.Header().Get("Set-Cookie"); v != "" {
		t.Errorf("Set-Cookie should not be forwarded, got %q", v)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Errorf("body = %q, want %q", rec.Body.Bytes(), payload)
	}
}

func TestProxyHandler_Handle_DefaultContentType(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Suppress net/http content sniffing so no Content-Type reaches the proxy.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("raw"))
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, upstream, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest(upstream.URL+"/noext"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want %q", ct, "image/jpeg")
	}
}

func TestProxyHandler_Handle_UpstreamErrorStatusPassthrough(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("hotlinking denied"))
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, upstream, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest(upstream.URL+"/a.jpg"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
	if rec.Body.String() != "hotlinking denied" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "hotlinking denied")
	}
}

func TestProxyHandler_Handle_FollowsRedirects(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old.jpg":
			http.Redirect(w, r, "/moved.jpg", http.StatusMovedPermanently)
		case "/moved.jpg":
			http.Redirect(w, r, "/new.jpg", http.StatusTemporaryRedirect)
		case "/new.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("new-image"))
		}
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, upstream, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest(upstream.URL+"/old.jpg"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "new-image" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "new-image")
	}
}

func TestProxyHandler_Handle_RedirectLoop(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, upstream, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest(upstream.URL+"/loop.jpg"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestProxyHandler_Handle_Unreachable(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	proxy, _ := newTestHandlers(t, nil, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest("https://"+addr+"/a.jpg?token=secret"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	body := rec.Body.String()
	if body != "Proxy error" {
		t.Errorf("body = %q, want %q", body, "Proxy error")
	}
	if strings.Contains(body, "refused") || strings.Contains(body, addr) {
		t.Errorf("body leaks error detail: %q", body)
	}
}

func TestProxyHandler_Handle_TLSFailure(t *testing.T) {
	// Plain-HTTP server: the TLS handshake against it fails.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain"))
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, nil, t.TempDir())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest(upstream.URL+"/a.jpg"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestProxyHandler_Handle_DialTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	logger := discardLogger()
	cfg := &config.Config{Proxy: config.ProxyConfig{UserAgent: "test", MaxRedirects: 5}}
	hc := &http.Client{Transport: &http.Transport{
		DialContext: (&net.Dialer{Timeout: time.Nanosecond}).DialContext,
	}}
	ic := client.NewImageClientWithHTTP(hc, logger, nil)
	proxy := NewProxyHandler(service.NewImageProxyService(ic, cfg, logger, nil), nil, logger)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(proxyRequest("https://"+ln.Addr().String()+"/a.jpg"), rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if rec.Body.String() != "Proxy error" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "Proxy error")
	}
}

func TestProxyHandler_Handle_InvalidURL(t *testing.T) {
	proxy, _ := newTestHandlers(t, nil, t.TempDir())

	for _, target := range []string{"not a url", "ftp://example.com/a.jpg", "https://", "://x"} {
		t.Run(target, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(proxyRequest(target), rec)

			if err := proxy.Handle(c); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestProxyHandler_Handle_NoURLFallsThroughToStatic(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "proxy"), []byte("a file named proxy"), 0o644); err != nil {
		t.Fatal(err)
	}
	proxy, _ := newTestHandlers(t, nil, root)

	tests := []struct {
		target     string
		wantStatus int
	}{
		{"/proxy", http.StatusOK},
		{"/proxy?url=", http.StatusOK},
		{"/proxy?other=1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := proxy.Handle(c); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != "a file named proxy" {
				t.Errorf("body = %q, want static file contents", rec.Body.String())
			}
		})
	}
}

func TestProxyHandler_Handle_CanceledContext(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(t, upstream, t.TempDir())

	e := echo.New()
	req := proxyRequest(upstream.URL + "/slow.jpg")
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := proxy.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code == http.StatusOK {
		t.Error("expected non-200 status for canceled context")
	}
}

func TestProxyHandler_mapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"invalid target", fmt.Errorf("wrap: %w", service.ErrInvalidTarget), http.StatusBadRequest, "Invalid url"},
		{"dns", fmt.Errorf("fetch: %w", &net.DNSError{Err: "no such host", Name: "img.example"}), http.StatusBadGateway, "Proxy error"},
		{"url error", &url.Error{Op: "Get", URL: "https://img.example/a.jpg", Err: errors.New("connection refused")}, http.StatusBadGateway, "Proxy error"},
		{"too many redirects", fmt.Errorf("fetch: %w", service.ErrTooManyRedirects), http.StatusBadGateway, "Proxy error"},
		{"bad redirect", fmt.Errorf("fetch: %w", service.ErrBadRedirect), http.StatusBadGateway, "Proxy error"},
		{"canceled", fmt.Errorf("fetch: %w", context.Canceled), http.StatusBadGateway, "Proxy error"},
		{"timeout", fmt.Errorf("fetch: %w", context.DeadlineExceeded), http.StatusBadGateway, "Proxy error"},
		{"unknown", errors.New("boom"), http.StatusBadGateway, "Proxy error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &ProxyHandler{logger: discardLogger()}
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody), rec)

			if err := h.mapError(c, tt.err); err != nil {
				t.Fatalf("mapError() returned error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  string
		want string
	}{
		{
			name: "redacts query in URL",
			err:  `Get "https://cdn.example/a.jpg?sig=secret123&exp=1": connection refused`,
			want: `Get "https://cdn.example/a.jpg?[REDACTED]": connection refused`,
		},
		{
			name: "no query unchanged",
			err:  "dial tcp 10.0.0.1:443: connection refused",
			want: "dial tcp 10.0.0.1:443: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeError(errors.New(tt.err))
			if got != tt.want {
				t.Errorf("sanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
