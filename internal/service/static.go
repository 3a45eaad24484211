package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gallery-proxy-go/internal/config"
	"gallery-proxy-go/internal/metrics"
)

var (
	// ErrNotFound is returned when a static file is missing or cannot be read.
	ErrNotFound = errors.New("static file not found")
	// ErrOutsideRoot is returned when a request path resolves outside the static root.
	ErrOutsideRoot = errors.New("path escapes static root")
)

const defaultContentType = "application/octet-stream"

// mimeTypes maps lower-case file extensions to content types. Read-only after init.
var mimeTypes = map[string]string{
	".html": "text/html",
	".js":   "text/javascript",
	".css":  "text/css",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".txt":  "text/plain",
}

// ContentTypeFor returns the content type for name based on its extension.
func ContentTypeFor(name string) string {
	if ct, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// StaticFile is a fully read file ready to be written to the client.
type StaticFile struct {
	ContentType string
	Data        []byte
}

// StaticService reads files from beneath a fixed root directory.
type StaticService struct {
	root    string // canonical: absolute with symlinks resolved
	index   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStaticService creates a StaticService rooted at cfg.Static.Root.
// The metrics parameter is optional; pass nil to disable lookup counting.
func NewStaticService(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*StaticService, error) {
	root, err := filepath.Abs(cfg.Static.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root: %w", err)
	}

	index := cfg.Static.Index
	if index == "" {
		index = "index.html"
	}

	return &StaticService{
		root:    root,
		index:   index,
		logger:  logger.With("component", "static"),
		metrics: m,
	}, nil
}

// Index returns the file name served for "/".
func (s *StaticService) Index() string {
	return s.index
}

// Exists reports whether relPath names a regular file inside the root.
func (s *StaticService) Exists(relPath string) bool {
	full, err := s.Resolve(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the file at relPath beneath the root. relPath uses forward
// slashes as in a URL path. Any lookup or read failure yields ErrNotFound;
// a path that resolves outside the root yields ErrOutsideRoot.
func (s *StaticService) Read(relPath string) (*StaticFile, error) {
	full, err := s.Resolve(relPath)
	if err != nil {
		if errors.Is(err, ErrOutsideRoot) {
			s.count("outside_root")
		} else {
			s.count("not_found")
		}
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		s.count("not_found")
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	s.count("served")
	return &StaticFile{
		ContentType: ContentTypeFor(relPath),
		Data:        data,
	}, nil
}

// Resolve maps relPath to an absolute path inside the root. The path is
// cleaned as a rooted URL path first, so ".." segments cannot climb above the
// root; symlinks are then resolved and the target must still be inside it.
// A path that does not exist is returned as-is for the caller to fail on.
func (s *StaticService) Resolve(relPath string) (string, error) {
	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, relPath)
	}

	cleaned := path.Clean("/" + strings.ReplaceAll(relPath, `\`, "/"))
	full := filepath.Join(s.root, filepath.FromSlash(cleaned))

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return full, nil
		}
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if !s.contains(resolved) {
		s.logger.Debug("resolved path outside root", "path", relPath, "resolved", resolved)
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, relPath)
	}
	return resolved, nil
}

func (s *StaticService) contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (s *StaticService) count(result string) {
	if s.metrics != nil {
		s.metrics.StaticResults.WithLabelValues(result).Inc()
	}
}
