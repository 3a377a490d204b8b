// Package staticcache holds the hand-maintained part of the firewall config.
//
// The base file is read once and whenever its modification time moves past
// the cache's last refresh. Everything between the dynamic content markers
// is dropped, and runs of blank lines collapse to one.
package staticcache

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"grimm.is/dynipsets/internal/clock"
	"grimm.is/dynipsets/internal/logging"
)

// Marker lines delimiting the region owned by the daemon.
const (
	BeginMarker = "# DYNAMIC CONTENT BEGIN"
	EndMarker   = "# DYNAMIC CONTENT END"
)

// Cache is a snapshot of the base file without its dynamic region.
type Cache struct {
	path        string
	content     string
	refreshedAt time.Time

	clock  clock.Clock
	logger *logging.Logger
}

// New reads path into a new cache. A missing or unreadable file leaves the
// content empty.
func New(path string, c clock.Clock, logger *logging.Logger) *Cache {
	cache := &Cache{
		path:   path,
		clock:  clock.OrReal(c),
		logger: logging.OrDefault(logger).WithComponent("staticcache"),
	}
	cache.refreshedAt = cache.clock.Now()
	if err := cache.reload(); err != nil {
		cache.logger.Warn("Static file not loaded", "path", path, "error", err)
	}
	return cache
}

// Path returns the base file path.
func (c *Cache) Path() string { return c.path }

// Content returns the cached text.
func (c *Cache) Content() string { return c.content }

// TryUpdate reloads the file when it was modified after the last refresh.
// It reports whether the content was rebuilt.
func (c *Cache) TryUpdate() bool {
	info, err := os.Stat(c.path)
	if err != nil {
		return false
	}
	if c.clock.Since(info.ModTime()) >= c.clock.Since(c.refreshedAt) {
		return false
	}
	if err := c.reload(); err != nil {
		c.logger.Warn("Static file reload failed", "path", c.path, "error", err)
		return false
	}
	return true
}

// MarkRefreshed resets the refresh time to now without reading the file.
func (c *Cache) MarkRefreshed() {
	c.refreshedAt = c.clock.Now()
}

// WriteTo writes the cached content to w.
func (c *Cache) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, c.content)
	return int64(n), err
}

func (c *Cache) reload() error {
	f, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer f.Close()

	content, err := Strip(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.path, err)
	}

	c.content = content
	c.MarkRefreshed()
	c.logger.Info("Updated origin file", "path", c.path)
	return nil
}

// Strip returns r's lines minus the marker-delimited region, with blank
// line runs collapsed. Every kept line is newline terminated.
func Strip(r io.Reader) (string, error) {
	var out []byte
	inDynamic := false
	lastEmpty := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == BeginMarker:
			inDynamic = true
			continue
		case line == EndMarker:
			inDynamic = false
			continue
		case inDynamic:
			continue
		}

		if line == "" {
			if lastEmpty {
				continue
			}
			lastEmpty = true
		} else {
			lastEmpty = false
		}

		out = append(out, line...)
		out = append(out, '\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return string(out), nil
}
