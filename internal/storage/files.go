package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrInvalidName is returned for document names that would escape the directory.
var ErrInvalidName = errors.New("invalid document name")

// Dir is a flat directory of documents keyed by filename stem.
type Dir struct {
	path string
	ext  string
}

func NewDir(path, ext string) *Dir {
	return &Dir{path: path, ext: ext}
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) file(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.path, name+d.ext), nil
}

// Names lists every document stem in the directory. A missing directory is empty.
func (d *Dir) Names() (mapset.Set[string], error) {
	names := mapset.NewThreadUnsafeSet[string]()
	entries, err := os.ReadDir(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.path, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), d.ext) {
			continue
		}
		names.Add(strings.TrimSuffix(e.Name(), d.ext))
	}
	return names, nil
}

// Read returns the raw document. Missing documents and invalid names
// both satisfy errors.Is(err, fs.ErrNotExist).
func (d *Dir) Read(name string) ([]byte, error) {
	p, err := d.file(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return os.ReadFile(p)
}

// Write creates or replaces the document, creating the directory if needed.
func (d *Dir) Write(name string, b []byte) error {
	p, err := d.file(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}

// Seed writes the document only if no document of that name exists yet.
// It reports whether a file was created.
func (d *Dir) Seed(name string, b []byte) (bool, error) {
	p, err := d.file(name)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}
