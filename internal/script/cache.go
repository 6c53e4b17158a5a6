// Package script stages the embedded conversion service script on disk.
//
// Worker processes need a real file to hand to the interpreter. The Cache
// writes the embedded script to a temp file the first time it is asked for
// and hands out the same path afterwards, re-staging only if the file
// disappears. Staged files are removed by Cleanup during orderly shutdown.
package script

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/smazurov/tablemd/internal/logging"
)

// Name is the embedded script file name.
const Name = "table_converter_service.py"

//go:embed table_converter_service.py
var embedded embed.FS

var (
	// ErrResourceMissing is returned when the script is not present in the source filesystem.
	ErrResourceMissing = errors.New("script resource not found")
	// ErrScriptStaging is returned when the script could not be read or written to disk.
	ErrScriptStaging = errors.New("failed to stage script")
)

// Cache materializes a script from an fs.FS into a temp file at most once
// while that file stays on disk. Safe for concurrent use.
type Cache struct {
	fsys    fs.FS
	name    string
	dir     string
	pattern string
	logger  logging.Logger

	path     atomic.Pointer[string]
	mu       sync.Mutex
	cleanups []func() error
	stagings atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithDir stages files under dir instead of os.TempDir().
func WithDir(dir string) CacheOption {
	return func(c *Cache) { c.dir = dir }
}

// WithLogger overrides the cache logger.
func WithLogger(logger logging.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates a cache serving the file name from fsys. The staged
// file keeps the extension of name.
func NewCache(fsys fs.FS, name string, opts ...CacheOption) *Cache {
	c := &Cache{
		fsys:    fsys,
		name:    name,
		pattern: tempPattern(name),
		logger:  logging.GetLogger("script"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCache = sync.OnceValue(func() *Cache {
	return NewCache(embedded, Name)
})

// Default returns the process-wide cache of the embedded conversion script.
func Default() *Cache {
	return defaultCache()
}

// Source returns the embedded conversion script.
func Source() ([]byte, error) {
	return fs.ReadFile(embedded, Name)
}

// Path returns the staged script path, staging it first if needed.
func (c *Cache) Path() (string, error) {
	if p := c.path.Load(); p != nil && exists(*p) {
		return *p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have staged it while we waited for the lock.
	if p := c.path.Load(); p != nil && exists(*p) {
		return *p, nil
	}

	return c.stage()
}

// stage writes the script to a new temp file. Caller must hold c.mu.
func (c *Cache) stage() (string, error) {
	data, err := fs.ReadFile(c.fsys, c.name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Error("Script resource not found", "name", c.name)
			return "", fmt.Errorf("%w: %s", ErrResourceMissing, c.name)
		}
		c.logger.Error("Failed to read script resource", "name", c.name, "error", err)
		return "", fmt.Errorf("%w: reading %s: %w", ErrScriptStaging, c.name, err)
	}

	f, err := os.CreateTemp(c.dir, c.pattern)
	if err != nil {
		c.logger.Error("Failed to create script file", "error", err)
		return "", fmt.Errorf("%w: %w", ErrScriptStaging, err)
	}
	path := f.Name()

	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)
		c.logger.Error("Failed to write script file", "path", path, "error", err)
		return "", fmt.Errorf("%w: writing %s: %w", ErrScriptStaging, path, err)
	}

	c.cleanups = append(c.cleanups, func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	c.path.Store(&path)
	c.stagings.Add(1)

	c.logger.Info("Script staged", "name", c.name, "path", path, "bytes", len(data))
	return path, nil
}

// Stagings reports how many times the script has been written to disk.
func (c *Cache) Stagings() int64 {
	return c.stagings.Load()
}

// Cleanup removes every file this cache staged. Failures are logged and
// joined; a later Path call stages a fresh copy.
func (c *Cache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, cleanup := range c.cleanups {
		if err := cleanup(); err != nil {
			c.logger.Warn("Cannot delete staged script", "error", err)
			errs = append(errs, err)
		}
	}
	c.cleanups = nil
	c.path.Store(nil)
	return errors.Join(errs...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// tempPattern turns "table_converter_service.py" into "table_converter_service*.py".
func tempPattern(name string) string {
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' {
			return name[:i] + "*" + name[i:]
		}
	}
	return name + "*"
}
