package epub

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"inkwell/archive"
)

// ResourceBag owns every resource materialized for one reading session.
// Binary entries (images mostly) are written once into a session scoped
// temporary directory and referenced from rewritten markup by file URL.
// The whole directory is removed on Release regardless of how the session
// ends - the OS level resource is not tied to memory lifetime and cannot be
// left to the garbage collector.
type ResourceBag struct {
	mu       sync.Mutex
	dir      string
	byEntry  map[string]string
	count    int
	released bool
	log      *zap.Logger
}

// NewResourceBag creates the session resource directory under parent.
// Empty parent means the system temporary directory.
func NewResourceBag(parent string, log *zap.Logger) (*ResourceBag, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("unable to create cache directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "inkwell-session-*")
	if err != nil {
		return nil, fmt.Errorf("unable to create session directory: %w", err)
	}
	return &ResourceBag{
		dir:     dir,
		byEntry: make(map[string]string),
		log:     log,
	}, nil
}

// Dir returns the session resource directory.
func (b *ResourceBag) Dir() string {
	return b.dir
}

// Len returns the number of materialized resources.
func (b *ResourceBag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byEntry)
}

// Materialize writes the archive entry into the session directory and
// returns a URL usable from rewritten markup. Repeated calls for the same
// entry return the same URL - many sections share the same images.
func (b *ResourceBag) Materialize(c *archive.Container, entryPath string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return "", fmt.Errorf("session resources already released")
	}
	if url, ok := b.byEntry[entryPath]; ok {
		return url, nil
	}

	data, err := c.ReadFile(entryPath)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("res-%04d%s", b.count, resourceExt(entryPath, data))
	full := filepath.Join(b.dir, name)
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("unable to materialize %q: %w", entryPath, err)
	}
	b.count++

	url := "file://" + filepath.ToSlash(full)
	b.byEntry[entryPath] = url
	b.log.Debug("Materialized resource", zap.String("entry", entryPath), zap.Int("bytes", len(data)), zap.String("url", url))
	return url, nil
}

// Release drops every materialized resource. Safe to call multiple times
// and must be called on every session exit path.
func (b *ResourceBag) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	b.released = true
	b.byEntry = make(map[string]string)
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("unable to remove session directory %q: %w", b.dir, err)
	}
	return nil
}

// resourceExt picks a file extension for a materialized resource: sniffed
// content type wins, the original archive extension is the fallback.
func resourceExt(entryPath string, data []byte) string {
	if t, err := filetype.Match(data); err == nil && t.Extension != "unknown" && t.Extension != "" {
		return "." + t.Extension
	}
	if ext := path.Ext(entryPath); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	return ".bin"
}
