package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// ErrDataIntegrity means the catalog file exists but cannot be trusted.
// Fatal for the catalog only; callers should not attempt to save over it.
var ErrDataIntegrity = errors.New("catalog file is malformed")

const schemaVersion = 1

// Store loads and saves the whole catalog. The file is read fully into
// memory and rewritten fully on save.
type Store interface {
	Load() ([]ComicRecord, error)
	Save(records []ComicRecord) error
}

type fileStore struct {
	path string
	log  *slog.Logger
}

var _ Store = (*fileStore)(nil)

func NewFileStore(path string, log *slog.Logger) Store {
	return &fileStore{path: path, log: log}
}

type document struct {
	SchemaVersion int           `json:"schema_version"`
	Comics        []ComicRecord `json:"comics"`
}

// Load reads the catalog file. A missing file is an empty catalog, not an
// error. A file that cannot be parsed, carries an unexpected schema version,
// or contains duplicate slugs fails with ErrDataIntegrity.
func (s *fileStore) Load() ([]ComicRecord, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Debug("no catalog file yet", "path", s.path)
		return []ComicRecord{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", s.path)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(ErrDataIntegrity, "parse %s: %v", s.path, err)
	}
	if doc.SchemaVersion != schemaVersion {
		return nil, errors.Wrapf(ErrDataIntegrity, "%s: unsupported schema version %d", s.path, doc.SchemaVersion)
	}

	slugs := make(map[string]struct{}, len(doc.Comics))
	for _, c := range doc.Comics {
		slug := strings.ToLower(c.Slug)
		if slug == "" {
			return nil, errors.Wrapf(ErrDataIntegrity, "%s: record with empty slug", s.path)
		}
		if _, ok := slugs[slug]; ok {
			return nil, errors.Wrapf(ErrDataIntegrity, "%s: duplicate slug %q", s.path, slug)
		}
		slugs[slug] = struct{}{}
	}

	sort.Slice(doc.Comics, func(i, j int) bool {
		return doc.Comics[i].Position < doc.Comics[j].Position
	})
	return doc.Comics, nil
}

// Save rewrites the catalog file atomically: the document is written to a
// temp file in the same directory and renamed over the target, so a crash
// mid-write can never leave a truncated catalog behind.
func (s *fileStore) Save(records []ComicRecord) error {
	sorted := make([]ComicRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	doc := document{
		SchemaVersion: schemaVersion,
		Comics:        sorted,
	}
	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode catalog")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp catalog")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp catalog")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmp.Name(), s.path)
	}
	s.log.Debug("saved catalog", "path", s.path, "records", len(sorted))
	return nil
}
