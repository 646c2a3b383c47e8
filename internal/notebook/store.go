package notebook

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"genai-assessor/internal/storage"
)

const ext = ".ipynb"

var ErrNotFound = errors.New("notebook workflow not found")

//go:embed defaults/*.ipynb
var defaults embed.FS

// Info summarizes a stored notebook for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CellCount   int    `json:"cell_count"`
	Language    string `json:"language"`
}

// Store keeps notebook workflows as .ipynb files in one directory.
type Store struct {
	dir *storage.Dir
}

func NewStore(dir string) *Store {
	return &Store{dir: storage.NewDir(dir, ext)}
}

// Load returns a fresh copy of the named notebook on every call, so the
// caller may mutate it.
func (s *Store) Load(name string) (*Document, error) {
	b, err := s.dir.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("notebook workflow %s not found: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read notebook %q: %w", name, err)
	}
	doc, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("notebook %q: %w", name, err)
	}
	return doc, nil
}

func (s *Store) List() (mapset.Set[string], error) {
	return s.dir.Names()
}

func (s *Store) Info(name string) (*Info, error) {
	doc, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	desc := "No description available"
	if len(doc.Cells) > 0 && doc.Cells[0].CellType == CellMarkdown {
		desc = string(doc.Cells[0].Source)
	}
	return &Info{
		Name:        name,
		Description: desc,
		CellCount:   len(doc.Cells),
		Language:    doc.Language(),
	}, nil
}

// Infos describes every stored notebook, sorted by name. Notebooks are
// read concurrently.
func (s *Store) Infos(ctx context.Context) ([]Info, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	sorted := names.ToSlice()
	sort.Strings(sorted)

	out := make([]Info, len(sorted))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range sorted {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := s.Info(name)
			if err != nil {
				return err
			}
			out[i] = *info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureSeeded writes the built-in notebooks that are missing from dir.
func EnsureSeeded(dir string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	d := storage.NewDir(dir, ext)
	entries, err := defaults.ReadDir("defaults")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := defaults.ReadFile(path.Join("defaults", e.Name()))
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(e.Name(), ext)
		created, err := d.Seed(name, b)
		if err != nil {
			return fmt.Errorf("seed notebook %q: %w", name, err)
		}
		if created {
			log.Info("seeded notebook", zap.String("notebook", name), zap.String("dir", dir))
		}
	}
	return nil
}
