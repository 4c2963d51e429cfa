package history

import (
	"time"
)

// PublicationSeen is one observed publication of a comic: a strip the
// scraper saw at a given time, keyed by (slug, ref).
type PublicationSeen struct {
	ID     int64     `db:"id"`
	Slug   string    `db:"slug"`
	Ref    string    `db:"ref"`
	URL    string    `db:"url"`
	Title  string    `db:"title"`
	SeenAt time.Time `db:"seen_at"`
}
