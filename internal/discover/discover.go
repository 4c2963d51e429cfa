// Package discover defines the capability set a publisher-specific scraper
// implements to feed candidate records into the catalog. New publishers are
// added by implementing Discoverer, never by branching on source inside
// shared logic.
package discover

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/catalog"
)

var (
	// ErrTransientScrape means a scrape timed out or hit a temporary
	// DOM/layout mismatch. Retryable; any candidates already produced are
	// still valid and must be accepted by the merger.
	ErrTransientScrape = errors.New("transient scrape failure")
	// ErrValidation means a candidate is structurally invalid. The
	// candidate is dropped and logged, never fatal for the run.
	ErrValidation = errors.New("candidate failed validation")
)

// Scope narrows what a discoverer lists.
type Scope string

const (
	ScopeFull      Scope = "full"
	ScopeFavorites Scope = "favorites"
)

// Discoverer lists candidate comic records from one publisher. The returned
// slice is finite and not restartable: a failed run is re-invoked from
// scratch. On a mid-scrape transient failure implementations return the
// candidates collected so far together with an error wrapping
// ErrTransientScrape.
type Discoverer interface {
	Source() catalog.Source
	Discover(ctx context.Context, scope Scope) ([]catalog.ComicRecord, error)
}

// DetailExtractor optionally enriches a single candidate with per-comic
// detail (author, proper title) from its item page.
type DetailExtractor interface {
	ExtractDetail(ctx context.Context, rec catalog.ComicRecord) (catalog.ComicRecord, error)
}

// Slugs matching these are publisher index/utility pages, not comics.
var reservedSlugs = map[string]struct{}{
	"comics":   {},
	"creators": {},
	"features": {},
	"profiles": {},
	"search":   {},
	"login":    {},
}

// NormalizeSlug lowercases and strips surrounding slashes and whitespace.
func NormalizeSlug(raw string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(raw), "/"))
}

// ValidateCandidate rejects structurally invalid candidates: empty slugs,
// reserved index-page sentinels, multi-segment paths and slugs carrying
// query-parameter junk.
func ValidateCandidate(c catalog.ComicRecord) error {
	slug := NormalizeSlug(c.Slug)
	if slug == "" {
		return errors.Wrap(ErrValidation, "empty slug")
	}
	if _, ok := reservedSlugs[slug]; ok {
		return errors.Wrapf(ErrValidation, "reserved slug %q", slug)
	}
	if strings.ContainsAny(slug, "?&=/ ") {
		return errors.Wrapf(ErrValidation, "malformed slug %q", slug)
	}
	if c.Source == "" {
		return errors.Wrapf(ErrValidation, "candidate %q missing source", slug)
	}
	return nil
}

// Clean drops invalid candidates, logging each rejection, and normalizes the
// slugs of the survivors.
func Clean(cands []catalog.ComicRecord, log *slog.Logger) []catalog.ComicRecord {
	out := make([]catalog.ComicRecord, 0, len(cands))
	for _, c := range cands {
		if err := ValidateCandidate(c); err != nil {
			log.Debug("dropping candidate", "slug", c.Slug, "source", c.Source, "err", err)
			continue
		}
		c.Slug = NormalizeSlug(c.Slug)
		out = append(out, c)
	}
	return out
}
