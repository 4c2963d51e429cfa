// Package history records observed publications per comic and serves the
// recent publication dates the cadence analyzer runs on.
package history

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/lib/pq"
)

var schema = `
CREATE TABLE IF NOT EXISTS publication_seen (
	id		serial		PRIMARY KEY,
	slug		text		NOT NULL,
	ref		text		NOT NULL,
	url		text		NOT NULL,
	title		text		NOT NULL DEFAULT '',
	seen_at		timestamptz	NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (slug, ref)
);

CREATE INDEX IF NOT EXISTS publication_seen_slug_idx ON publication_seen (slug);
CREATE INDEX IF NOT EXISTS publication_seen_seen_at_idx ON publication_seen (seen_at);
`

const (
	sqlCreateSeen     string = `INSERT INTO publication_seen (slug, ref, url, title, seen_at) VALUES ($1, $2, $3, $4, $5) RETURNING id;`
	sqlGetSeen        string = `SELECT id, slug, ref, url, title, seen_at FROM publication_seen WHERE slug = $1 AND ref = $2;`
	sqlGetRecentDates string = `SELECT seen_at FROM publication_seen WHERE slug = $1 ORDER BY seen_at DESC LIMIT $2;`
	sqlGetLastURL     string = `SELECT url FROM publication_seen WHERE slug = $1 ORDER BY seen_at DESC LIMIT 1;`
)

//go:generate mockery -interface Store -package historytest

type Store interface {
	CreateSeen(p PublicationSeen) (int64, error)
	GetSeen(slug, ref string) (PublicationSeen, error)
	GetRecentDates(slug string, limit int) ([]time.Time, error)
	GetLastURL(slug string) (string, error)
}

type Conn interface {
	Beginx() (*sqlx.Tx, error)
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
}

var _ Conn = (*sqlx.DB)(nil)

type pgStore struct {
	db Conn
}

var _ Store = (*pgStore)(nil)

// NewPGStore returns a Store backed by the given connection.
func NewPGStore(db Conn) Store {
	return &pgStore{db: db}
}

// EnsureSchema creates the publication_seen table if needed.
func EnsureSchema(db *sqlx.DB) error {
	_, err := db.Exec(schema)
	return errors.Wrap(err, "ensure history schema")
}

// CreateSeen implements Store.CreateSeen
func (s *pgStore) CreateSeen(p PublicationSeen) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var newID int64
	rows, err := tx.Query(sqlCreateSeen, p.Slug, p.Ref, p.URL, p.Title, p.SeenAt)
	if err != nil {
		return 0, err
	}
	if rows.Next() {
		if err := rows.Scan(&newID); err != nil {
			return 0, err
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newID, nil
}

// GetSeen implements Store.GetSeen
func (s *pgStore) GetSeen(slug, ref string) (PublicationSeen, error) {
	p := PublicationSeen{}
	if err := s.db.Get(&p, sqlGetSeen, slug, ref); err != nil {
		return PublicationSeen{}, err
	}
	return p, nil
}

// GetRecentDates implements Store.GetRecentDates
func (s *pgStore) GetRecentDates(slug string, limit int) ([]time.Time, error) {
	dates := make([]time.Time, 0)
	if err := s.db.Select(&dates, sqlGetRecentDates, slug, limit); err != nil {
		return nil, errors.Wrapf(err, "fetching recent dates for %s", slug)
	}
	return dates, nil
}

// GetLastURL implements Store.GetLastURL
func (s *pgStore) GetLastURL(slug string) (string, error) {
	var lastURL string
	if err := s.db.Get(&lastURL, sqlGetLastURL, slug); err != nil {
		return "", errors.Wrapf(err, "fetching last URL for %s", slug)
	}
	return lastURL, nil
}
