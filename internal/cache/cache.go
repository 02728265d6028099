// Package cache implements spec.md §4.6: URI fingerprinting, the on-disk
// body/metadata layout, TTL expiration, and the OpenFiles exclusion token
// that prevents a URI being read and written at once.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oferbear/HTTP-proxy/internal/domain"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/wire"
)

// handleMode distinguishes the two roles an open cache file can serve.
type handleMode int

const (
	modeRead handleMode = iota
	modeWrite
)

type openHandle struct {
	mode handleMode
	file *os.File
}

// Cache stores cacheable response bodies on disk, keyed by the SHA-1
// fingerprint of the original request URI. OpenFiles is the process-wide
// exclusion token from spec.md's data model: while a URI is present, no
// second reader or writer for it is created (spec.md invariant 3).
type Cache struct {
	root string // <root>/<fingerprint>            body
	meta string // <root>/metadata/<fingerprint>    metadata

	mu    sync.Mutex
	open  map[string]*openHandle
	log   *logger.StyledLogger
}

// New prepares the on-disk cache layout rooted at root (spec.md fixes this
// to "cache" under the process's working directory; callers pass that path
// resolved).
func New(root string, log *logger.StyledLogger) (*Cache, error) {
	metaDir := filepath.Join(root, "metadata")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare cache directories: %w", err)
	}
	return &Cache{
		root: root,
		meta: metaDir,
		open: make(map[string]*openHandle),
		log:  log,
	}, nil
}

// Fingerprint returns the lowercase-hex SHA-1 digest of uri — a pure
// function of its input, as spec.md's testable property 3 requires.
func Fingerprint(uri string) string {
	sum := sha1.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) bodyPath(fp string) string { return filepath.Join(c.root, fp) }
func (c *Cache) metaPath(fp string) string { return filepath.Join(c.meta, fp) }

// IsCacheableResponse reports the positive max-age a response's headers
// request caching for, if any (spec.md §4.6's is_cacheable_response).
func IsCacheableResponse(headers *wire.Headers) (int, bool) {
	return wire.CacheControlMaxAge(headers)
}

// Lookup implements spec.md §4.6's lookup operation: a hit requires the URI
// absent from OpenFiles, the body file present, and an unexpired metadata
// entry. A valid hit increments hits and rewrites metadata. An expired hit
// deletes both files and reports a miss.
func (c *Cache) Lookup(ctx *domain.RequestContext) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uri := ctx.URI
	if _, busy := c.open[uri]; busy {
		return false, nil
	}

	fp := Fingerprint(uri)
	metaRaw, err := os.ReadFile(c.metaPath(fp))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read metadata: %w", err)
	}
	if _, err := os.Stat(c.bodyPath(fp)); err != nil {
		// Metadata without a body violates invariant 2; treat as a miss and
		// clean up the orphan rather than serving nothing forever.
		os.Remove(c.metaPath(fp))
		return false, nil
	}

	md, err := parseMetadata(metaRaw)
	if err != nil {
		return false, fmt.Errorf("parse metadata: %w", err)
	}

	if md.ExpirationUnix < time.Now().Unix() {
		os.Remove(c.bodyPath(fp))
		os.Remove(c.metaPath(fp))
		return false, nil
	}

	md.Hits++
	if err := os.WriteFile(c.metaPath(fp), md.encode(), 0o644); err != nil {
		return false, fmt.Errorf("update metadata: %w", err)
	}
	return true, nil
}

// OpenReader opens the cached body for streaming and claims the URI's
// OpenFiles slot for reading. Call only after Lookup reports a hit.
func (c *Cache) OpenReader(ctx *domain.RequestContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := Fingerprint(ctx.URI)
	f, err := os.Open(c.bodyPath(fp))
	if err != nil {
		return fmt.Errorf("open cached body: %w", err)
	}
	c.open[ctx.URI] = &openHandle{mode: modeRead, file: f}
	return nil
}

// OpenWriter creates (overwriting) the body and metadata files for ctx.URI
// and claims the OpenFiles slot for writing, as spec.md's open_writer
// requires when ProxyBack sees a cacheable response.
func (c *Cache) OpenWriter(ctx *domain.RequestContext, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := Fingerprint(ctx.URI)
	f, err := os.OpenFile(c.bodyPath(fp), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create cache body: %w", err)
	}
	md := metadata{
		ExpirationUnix: time.Now().Unix() + int64(ttlSeconds),
		URL:            ctx.URI,
		Hits:           0,
	}
	if err := os.WriteFile(c.metaPath(fp), md.encode(), 0o644); err != nil {
		f.Close()
		return fmt.Errorf("create cache metadata: %w", err)
	}
	c.open[ctx.URI] = &openHandle{mode: modeWrite, file: f}
	return nil
}

// Append writes p to ctx.URI's open writer, silently doing nothing if the
// URI has no open writer (spec.md §4.6's append). A failed or short write
// abandons the entry: the writer is closed and released, and the body and
// metadata files are removed.
func (c *Cache) Append(ctx *domain.RequestContext, p []byte) {
	c.mu.Lock()
	h, ok := c.open[ctx.URI]
	c.mu.Unlock()
	if !ok || h.mode != modeWrite {
		return
	}
	if n, err := h.file.Write(p); err != nil || n < len(p) {
		c.log.Warn("cache write failed, abandoning entry", "uri", ctx.URI, "error", err)
		c.mu.Lock()
		c.deleteLocked(ctx.URI) //nolint:errcheck
		c.mu.Unlock()
	}
}

// CloseWriter closes and releases ctx.URI's open writer, for the point
// spec.md's ProxyBack CONTENT state reaches end-of-body.
func (c *Cache) CloseWriter(ctx *domain.RequestContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.open[ctx.URI]
	if !ok || h.mode != modeWrite {
		return
	}
	h.file.Close()
	delete(c.open, ctx.URI)
}

// LoadChunk reads up to TO_SEND_MAXSIZE-frontSendLen bytes from ctx.URI's
// open reader. An empty read closes and releases the reader, matching
// spec.md §4.6's load_chunk.
func (c *Cache) LoadChunk(ctx *domain.RequestContext, frontSendLen int) ([]byte, error) {
	c.mu.Lock()
	h, ok := c.open[ctx.URI]
	c.mu.Unlock()
	if !ok || h.mode != modeRead {
		return nil, nil
	}

	room := wire.ToSendMaxSize - frontSendLen
	if room <= 0 {
		return nil, nil
	}
	buf := make([]byte, room)
	n, err := h.file.Read(buf)
	if n == 0 {
		c.mu.Lock()
		h.file.Close()
		delete(c.open, ctx.URI)
		c.mu.Unlock()
		if err != nil && !errors.Is(err, os.ErrClosed) {
			return nil, nil
		}
		return nil, nil
	}
	return buf[:n], nil
}

// Delete removes uri's body and metadata files. Missing files are not an
// error — a concurrent delete_all may already have removed them.
func (c *Cache) Delete(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(uri)
}

func (c *Cache) deleteLocked(uri string) error {
	fp := Fingerprint(uri)
	if h, ok := c.open[uri]; ok {
		h.file.Close()
		delete(c.open, uri)
	}
	err1 := os.Remove(c.bodyPath(fp))
	err2 := os.Remove(c.metaPath(fp))
	if err1 != nil && !errors.Is(err1, os.ErrNotExist) {
		return err1
	}
	if err2 != nil && !errors.Is(err2, os.ErrNotExist) {
		return err2
	}
	return nil
}

// DeleteAll purges every cache entry.
func (c *Cache) DeleteAll() error {
	rows, err := c.ListCached()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		if err := c.deleteLocked(row.URI); err != nil {
			return err
		}
	}
	return nil
}

// ListCached returns every cache entry's URI, formatted expiration date and
// hit count, for the admin management table.
func (c *Cache) ListCached() ([]wire.CacheRow, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	var rows []wire.CacheRow
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		metaRaw, err := os.ReadFile(c.metaPath(entry.Name()))
		if err != nil {
			continue // body without metadata: skip, invariant-violating orphan
		}
		md, err := parseMetadata(metaRaw)
		if err != nil {
			continue
		}
		rows = append(rows, wire.CacheRow{
			URI:        md.URL,
			Expiration: time.Unix(md.ExpirationUnix, 0).Format(time.ANSIC),
			Hits:       md.Hits,
		})
	}
	return rows, nil
}

// Stats returns the number of cached entries and their combined body size
// in bytes, for the admin page's cache-size stat (a SPEC_FULL.md addition).
func (c *Cache) Stats() (count int, totalBytes int64, err error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		totalBytes += info.Size()
	}
	return count, totalBytes, nil
}
