package workflow

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"genai-assessor/internal/storage"
)

const ext = ".json"

//go:embed defaults/*.json
var defaults embed.FS

// Store loads workflows from a flat directory of JSON files. Workflows are
// read fresh on every Load.
type Store struct {
	dir *storage.Dir
}

func NewStore(dir string) *Store {
	return &Store{dir: storage.NewDir(dir, ext)}
}

func (s *Store) Load(name string) (*Workflow, error) {
	b, err := s.dir.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("workflow '%s' not found: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow %q: %w", name, err)
	}
	return Parse(name, b)
}

func (s *Store) List() (mapset.Set[string], error) {
	return s.dir.Names()
}

// EnsureSeeded writes the built-in workflows that are missing from dir.
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
			return fmt.Errorf("seed workflow %q: %w", name, err)
		}
		if created {
			log.Info("seeded workflow", zap.String("workflow", name), zap.String("dir", dir))
		}
	}
	return nil
}
