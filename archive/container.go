// Package archive builds e-book container access on top of "archive/zip".
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"golang.org/x/text/encoding"
)

// Container is an opened zip based e-book container. It exposes random
// access to internal files by path and a trailing file name fallback lookup
// for archives with inconsistent internal references.
type Container struct {
	name    string
	file    *os.File
	reader  *zip.Reader
	entries map[string]*zip.File
	byName  map[string][]string
	order   []string
}

// Open opens an e-book container on disk. When cp is not nil it is used to
// decode entry names which are not marked as UTF-8 - zip "standard" does not
// define file name encoding and old archives use archaic code pages.
func Open(name string, cp encoding.Encoding) (*Container, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	c, err := OpenReader(f, fi.Size(), cp)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.name, c.file = name, f
	return c, nil
}

// OpenReader opens an e-book container from raw bytes accessible via r.
func OpenReader(r io.ReaderAt, size int64, cp encoding.Encoding) (*Container, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("unable to open container: %w", err)
	}

	c := &Container{
		reader:  zr,
		entries: make(map[string]*zip.File),
		byName:  make(map[string][]string),
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.FileHeader.Name
		if f.NonUTF8 && cp != nil {
			if decoded, err := cp.NewDecoder().String(name); err == nil {
				name = decoded
			}
		}
		name = path.Clean(strings.ReplaceAll(name, `\`, "/"))
		if !isSafePath(name) {
			// entries with path traversal components or absolute paths are
			// silently skipped to prevent Zip Slip attacks
			continue
		}
		if _, dup := c.entries[name]; dup {
			continue
		}
		c.entries[name] = f
		c.order = append(c.order, name)
		base := strings.ToLower(path.Base(name))
		c.byName[base] = append(c.byName[base], name)
	}

	// deterministic fallback lookup regardless of archive entry order
	for _, paths := range c.byName {
		sort.Sort(natural.StringSlice(paths))
	}
	return c, nil
}

// Name returns path of the underlying archive if it was opened from disk.
func (c *Container) Name() string {
	return c.name
}

// Names returns all file entries in archive order.
func (c *Container) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Entry returns the archive file stored under the exact path.
func (c *Container) Entry(name string) (*zip.File, bool) {
	f, ok := c.entries[normalize(name)]
	return f, ok
}

// FindByName returns the path of an entry whose trailing file name matches,
// ignoring case. Real-world archives frequently reference resources with
// broken relative paths, this is the last resort lookup.
func (c *Container) FindByName(name string) (string, bool) {
	paths, ok := c.byName[strings.ToLower(path.Base(normalize(name)))]
	if !ok || len(paths) == 0 {
		return "", false
	}
	return paths[0], true
}

// ReadFile reads the whole entry stored under the given path.
func (c *Container) ReadFile(name string) ([]byte, error) {
	f, ok := c.Entry(name)
	if !ok {
		return nil, fmt.Errorf("no entry %q in container", name)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open entry %q: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Close releases the underlying archive handle.
func (c *Container) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func normalize(name string) string {
	return path.Clean(strings.TrimPrefix(strings.ReplaceAll(name, `\`, "/"), "/"))
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
