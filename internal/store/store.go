// Package store provides the file-tree blob storage used for batch artifacts
// and translated content. The engine treats the tree as a flat key-value
// space of relative paths; there is no locking beyond whole-file replacement.
package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/locflow/locflow/internal/fault"
)

// Store is the blob interface the pipeline components share.
type Store interface {
	// Read returns the contents of the file at the given relative path.
	Read(path string) ([]byte, error)

	// Write replaces the file at the given relative path, creating parent
	// directories as needed.
	Write(path string, data []byte) error

	// List returns the relative paths of all regular files under dir,
	// recursively, sorted for stable iteration.
	List(dir string) ([]string, error)

	// Remove deletes the file or directory tree at the given relative path.
	Remove(path string) error

	// Exists reports whether a file exists at the given relative path.
	Exists(path string) bool
}

// Dir is a Store rooted at a directory on the local filesystem.
type Dir struct {
	root string
	mu   sync.Mutex
}

// NewDir creates a Store rooted at root. The directory is created lazily on
// first write.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fault.New(fault.Validation, "path %q escapes store root", path)
	}
	return filepath.Join(d.root, clean), nil
}

func (d *Dir) Read(path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fault.Wrap(fault.NotFound, err, "file %s", path)
	}
	return data, err
}

// Write is atomic per file: content lands in a temp file first and is
// renamed into place, so readers never observe a half-written blob.
func (d *Dir) Write(path string, data []byte) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".locflow-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (d *Dir) List(dir string) ([]string, error) {
	full, err := d.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	walkErr := filepath.WalkDir(full, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(full, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(walkErr, fs.ErrNotExist) {
		return nil, fault.Wrap(fault.NotFound, walkErr, "directory %s", dir)
	}
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(out)
	return out, nil
}

func (d *Dir) Remove(path string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

func (d *Dir) Exists(path string) bool {
	full, err := d.resolve(path)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(full)
	return statErr == nil
}
