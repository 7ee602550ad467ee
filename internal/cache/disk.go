package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// DiskCache is a content-addressed byte store: one flat file per entry,
// named by HashKey of the logical key, under <root>/<namespace>.
// Entries are never enumerated on the read path and there is no index.
//
// Writes go through a temp file and rename, so readers never observe a
// partial file; concurrent writers of the same key race and the last rename
// wins. A shared flock on <root>/<namespace>.lock is held by writers and an
// exclusive one by Clear, which keeps clears safe across processes.
type DiskCache struct {
	dir      string
	lockPath string
	maxBytes int64
	logger   *zap.Logger

	mu      sync.Mutex
	ready   bool
	evictMu sync.Mutex
}

// DiskOption configures a DiskCache.
type DiskOption func(*DiskCache)

// WithMaxBytes caps the total size of the namespace. When a write pushes the
// tier past the cap, files are removed oldest-modified first.
// Zero (the default) leaves the tier unbounded.
func WithMaxBytes(n int64) DiskOption {
	return func(c *DiskCache) { c.maxBytes = n }
}

// WithDiskLogger sets the logger used for best-effort maintenance work.
func WithDiskLogger(logger *zap.Logger) DiskOption {
	return func(c *DiskCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewDiskCache returns a cache rooted at root/namespace. The directory is
// created on first use, not here.
func NewDiskCache(root, namespace string, opts ...DiskOption) *DiskCache {
	c := &DiskCache{
		dir:      filepath.Join(root, namespace),
		lockPath: filepath.Join(root, namespace+".lock"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the directory holding the entries.
func (c *DiskCache) Dir() string {
	return c.dir
}

// Path resolves an identifier to its file path. It does not check existence.
func (c *DiskCache) Path(id string) string {
	return filepath.Join(c.dir, id)
}

// Get implements BlobStore.
func (c *DiskCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}
	return c.ReadBytes(HashKey(key))
}

// Set implements BlobStore.
func (c *DiskCache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.WriteBytes(HashKey(key), value)
}

// ReadBytes returns the blob stored under id. A missing file is a clean
// miss; any other failure is a *CacheIOError.
func (c *DiskCache) ReadBytes(id string) ([]byte, bool, error) {
	path := c.Path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &CacheIOError{Op: "read", Path: path, Err: err}
	}
	return data, true, nil
}

// WriteBytes replaces the blob stored under id. Empty blobs are ignored.
func (c *DiskCache) WriteBytes(id string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := c.ensureDir(); err != nil {
		return err
	}

	lock := flock.New(c.lockPath)
	if err := lock.RLock(); err != nil {
		return &CacheIOError{Op: "lock", Path: c.lockPath, Err: err}
	}
	defer lock.Unlock()

	path := c.Path(id)
	tmp, err := os.CreateTemp(c.dir, ".tmp-"+id+"-*")
	if err != nil {
		return &CacheIOError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return &CacheIOError{Op: "write", Path: path, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &CacheIOError{Op: "rename", Path: path, Err: err}
	}

	if c.maxBytes > 0 {
		c.enforceLimit()
	}
	return nil
}

// Delete implements BlobStore.
func (c *DiskCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.Remove(HashKey(key))
}

// Remove deletes the blob stored under id. Missing entries are not an error.
func (c *DiskCache) Remove(id string) error {
	path := c.Path(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &CacheIOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Clear removes every entry, including leftover temp files.
func (c *DiskCache) Clear() error {
	if err := c.ensureDir(); err != nil {
		return err
	}

	lock := flock.New(c.lockPath)
	if err := lock.Lock(); err != nil {
		return &CacheIOError{Op: "lock", Path: c.lockPath, Err: err}
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return &CacheIOError{Op: "readdir", Path: c.dir, Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &CacheIOError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}

// Size returns the total bytes of committed entries.
func (c *DiskCache) Size() (int64, error) {
	files, err := c.entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

func (c *DiskCache) ensureDir() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return &CacheIOError{Op: "mkdir", Path: c.dir, Err: err}
	}
	c.ready = true
	return nil
}

type diskFile struct {
	path  string
	size  int64
	mtime int64
}

func (c *DiskCache) entries() ([]diskFile, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheIOError{Op: "readdir", Path: c.dir, Err: err}
	}

	files := make([]diskFile, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, diskFile{
			path:  filepath.Join(c.dir, entry.Name()),
			size:  info.Size(),
			mtime: info.ModTime().UnixNano(),
		})
	}
	return files, nil
}

// enforceLimit trims the namespace down to maxBytes. Only one goroutine
// trims at a time; others skip since the running pass covers their write.
func (c *DiskCache) enforceLimit() {
	if !c.evictMu.TryLock() {
		return
	}
	defer c.evictMu.Unlock()

	files, err := c.entries()
	if err != nil {
		c.logger.Warn("disk cache size scan failed", zap.Error(err))
		return
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= c.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime < files[j].mtime })

	removed := 0
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("disk cache eviction failed",
				zap.String("path", f.path),
				zap.Error(err),
			)
			continue
		}
		total -= f.size
		removed++
	}

	c.logger.Debug("disk cache trimmed",
		zap.Int("removed", removed),
		zap.Int64("size_bytes", total),
		zap.Int64("max_bytes", c.maxBytes),
	)
}
