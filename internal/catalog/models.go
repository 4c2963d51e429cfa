package catalog

import (
	"time"

	"github.com/johnstcn/comicsync/internal/cadence"
)

// Source identifies the publisher-specific scraper that discovered a comic.
// A record's Source is assigned when the record is first merged and is never
// rewritten afterwards.
type Source string

const (
	SourceGoComics      Source = "gocomics"
	SourceComicsKingdom Source = "comicskingdom"
)

// ComicRecord is one entry in the canonical catalog, keyed by Slug.
type ComicRecord struct {
	Slug                string                  `json:"slug"`
	Name                string                  `json:"name"`
	Author              string                  `json:"author"`
	URL                 string                  `json:"url"`
	Source              Source                  `json:"source"`
	Position            int                     `json:"position"`
	IsUpdated           bool                    `json:"is_updated"`
	PublishingFrequency *cadence.Classification `json:"publishing_frequency,omitempty"`
	FrequencyCheckedAt  time.Time               `json:"frequency_checked_at,omitempty"`
}
