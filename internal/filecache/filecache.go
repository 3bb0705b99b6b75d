// Package filecache is the filesystem-backed store for downloaded avatar images.
//
// The cache maps a filename (the basename of the upstream avatar URL) to the
// raw image bytes on disk. The matching metadata — which filename belongs to
// which user, and where it came from — lives in the user record, not here.
// This package only does files: exists / read / stream-from-URL / delete.
package filecache

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// downloadTimeout bounds a single avatar download. Images are small; if the
// transfer hasn't finished in this window, the upstream is misbehaving.
const downloadTimeout = 30 * time.Second

// Cache stores binary files under a single root directory.
type Cache struct {
	root       string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a file cache rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	// MkdirAll is like `mkdir -p` — creates parents, no error if it exists.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filecache: creating cache dir %s: %w", dir, err)
	}
	return &Cache{
		root: dir,
		httpClient: &http.Client{
			Timeout: downloadTimeout,
		},
		logger: logger,
	}, nil
}

// path resolves a cache filename to its on-disk location.
//
// PATH TRAVERSAL:
// Filenames come from the basename of an upstream URL, but we still refuse
// anything containing a separator or ".." — a cache name must never be able
// to escape the root directory.
func (c *Cache) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("filecache: invalid cache filename %q", name)
	}
	return filepath.Join(c.root, name), nil
}

// Exists reports whether a file with the given name is present in the cache.
func (c *Cache) Exists(name string) bool {
	p, err := c.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// ReadBase64 reads a cached file and returns its contents base64-encoded,
// which is how the HTTP surface serves avatar bytes inside a JSON envelope.
func (c *Cache) ReadBase64(name string) (string, error) {
	p, err := c.path(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("filecache: reading %s: %w", name, err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// WriteFromURL streams the resource at sourceURL into the cache under name,
// overwriting any existing (possibly partial) content.
//
// WRITE-THEN-RENAME:
// The body is streamed to a temporary file in the same directory and renamed
// into place only after a successful copy and close. A failed download can
// therefore never leave a truncated file under the final name — concurrent
// readers either see the old complete file or the new complete file.
func (c *Cache) WriteFromURL(ctx context.Context, name, sourceURL string) error {
	p, err := c.path(name)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("filecache: building download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("filecache: downloading %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("filecache: downloading %s: upstream status %d", sourceURL, resp.StatusCode)
	}

	// CreateTemp in the cache root (not os.TempDir) so the final rename is
	// within one filesystem — cross-device renames fail on some platforms.
	tmp, err := os.CreateTemp(c.root, name+".download-*")
	if err != nil {
		return fmt.Errorf("filecache: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filecache: writing %s: %w", name, err)
	}
	// Close flushes; the write must be fully on disk before the rename.
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filecache: closing %s: %w", name, err)
	}

	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filecache: renaming into place: %w", err)
	}

	c.logger.Info("avatar downloaded",
		slog.String("file", name),
		slog.Int64("bytes", written),
	)

	return nil
}

// Delete removes a cached file. Deleting a file that doesn't exist is a
// no-op, not an error — the caller only cares that the file is gone.
func (c *Cache) Delete(name string) error {
	p, err := c.path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filecache: deleting %s: %w", name, err)
	}
	return nil
}
