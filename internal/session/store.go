package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

var (
	// ErrNotFound means no session has been persisted for the identity.
	ErrNotFound = errors.New("no session state for identity")
	// ErrDataIntegrity means the session file exists but cannot be
	// trusted. Fatal for the identity only; recovery is re-authentication.
	ErrDataIntegrity = errors.New("session file is malformed")
	// ErrUnknownIdentity means the store has no file path configured for
	// the identity.
	ErrUnknownIdentity = errors.New("unknown session identity")
)

const schemaVersion = 1

// Store persists session state per publisher identity.
type Store interface {
	Load(identity string) (State, error)
	Save(identity string, s State) error
}

type fileStore struct {
	paths map[string]string
	log   *slog.Logger
}

var _ Store = (*fileStore)(nil)

// NewFileStore returns a Store keeping one JSON document per identity at the
// configured paths.
func NewFileStore(paths map[string]string, log *slog.Logger) Store {
	return &fileStore{paths: paths, log: log}
}

type document struct {
	SchemaVersion int       `json:"schema_version"`
	CapturedAt    time.Time `json:"captured_at"`
	Cookies       []Cookie  `json:"cookies"`
}

func (f *fileStore) Load(identity string) (State, error) {
	path, ok := f.paths[identity]
	if !ok {
		return State{}, errors.Wrap(ErrUnknownIdentity, identity)
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, errors.Wrap(ErrNotFound, identity)
	}
	if err != nil {
		return State{}, errors.Wrapf(err, "read session file %s", path)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return State{}, errors.Wrapf(ErrDataIntegrity, "parse %s: %v", path, err)
	}
	if doc.SchemaVersion != schemaVersion {
		return State{}, errors.Wrapf(ErrDataIntegrity, "%s: unsupported schema version %d", path, doc.SchemaVersion)
	}

	return State{Cookies: doc.Cookies, CapturedAt: doc.CapturedAt}, nil
}

// Save atomically replaces the identity's session file so a crash mid-write
// never leaves truncated state behind.
func (f *fileStore) Save(identity string, s State) error {
	path, ok := f.paths[identity]
	if !ok {
		return errors.Wrap(ErrUnknownIdentity, identity)
	}

	doc := document{
		SchemaVersion: schemaVersion,
		CapturedAt:    s.CapturedAt,
		Cookies:       s.Cookies,
	}
	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session state")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp session file")
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return errors.Wrap(err, "chmod session file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmp.Name(), path)
	}
	f.log.Debug("saved session state", "identity", identity, "cookies", len(s.Cookies))
	return nil
}
