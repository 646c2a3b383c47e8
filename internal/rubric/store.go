package rubric

import (
	"bytes"
	"embed"
	"encoding/json"
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

var ErrNotFound = errors.New("rubric not found")

//go:embed defaults/*.json
var defaults embed.FS

// Store reads and writes rubrics in a flat directory of JSON files.
// It never writes on construction; see EnsureSeeded.
type Store struct {
	dir *storage.Dir
	log *zap.Logger
}

func NewStore(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: storage.NewDir(dir, ext), log: log}
}

func (s *Store) Load(name string) (*Rubric, error) {
	b, err := s.dir.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("rubric '%s' not found: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read rubric %q: %w", name, err)
	}
	return New(name, b)
}

func (s *Store) List() (mapset.Set[string], error) {
	return s.dir.Names()
}

// Save replaces the named rubric wholesale.
func (s *Store) Save(name string, r *Rubric) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.Document(), "", "  "); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRubric, err)
	}
	if err := s.dir.Write(name, buf.Bytes()); err != nil {
		return fmt.Errorf("save rubric %q: %w", name, err)
	}
	s.log.Info("rubric saved", zap.String("rubric", name))
	return nil
}

// EnsureSeeded creates dir if needed and writes the built-in rubrics that
// are not already present. Existing files are never touched.
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
			return fmt.Errorf("seed rubric %q: %w", name, err)
		}
		if created {
			log.Info("seeded rubric", zap.String("rubric", name), zap.String("dir", dir))
		}
	}
	return nil
}
