package history

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/fetch"
	"github.com/johnstcn/comicsync/internal/parser"
)

// defaultMaxPages caps an archive walk so a pathological next link cannot
// run forever.
const defaultMaxPages = 30

// ArchiveRules tells the Backfiller how to read one publisher's archive
// pages: where publications live on the page and how to step backwards
// through the archive.
type ArchiveRules struct {
	// StartURL is the newest archive page, usually the comic front page.
	StartURL string

	// RefXPath and RefRegexp extract the publication reference, typically
	// a date embedded in the strip URL.
	RefXPath  string
	RefRegexp string

	// TitleXPath and TitleRegexp extract the strip title. Optional.
	TitleXPath  string
	TitleRegexp string

	// DateXPath, DateRegexp and DateFormat extract and parse the
	// publication date. When absent the ref is parsed with DateFormat
	// instead.
	DateXPath  string
	DateRegexp string
	DateFormat string

	// NextXPath and NextRegexp extract the link to the previous (older)
	// archive page. An empty match ends the walk.
	NextXPath  string
	NextRegexp string
}

// Backfiller walks a comic's archive backwards and records each publication
// it has not seen before, so a fresh slug accumulates enough history for
// cadence analysis without waiting weeks of live observation.
type Backfiller struct {
	fetcher  fetch.Fetcher
	store    Store
	maxPages int
	log      *slog.Logger
}

type BackfillerArgs struct {
	Fetcher  fetch.Fetcher
	Store    Store
	MaxPages int
	Logger   *slog.Logger
}

func NewBackfiller(a *BackfillerArgs) *Backfiller {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}
	maxPages := a.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Backfiller{
		fetcher:  a.Fetcher,
		store:    a.Store,
		maxPages: maxPages,
		log:      log,
	}
}

// Backfill walks the archive for slug until the rules stop matching, a page
// loops back on itself, or maxPages is hit. It returns the number of new
// publications recorded. Publications recorded before a failure are kept.
func (b *Backfiller) Backfill(ctx context.Context, slug string, rules ArchiveRules) (int, error) {
	var recorded int
	visited := map[string]struct{}{}
	pageURL := rules.StartURL

	for page := 0; page < b.maxPages && pageURL != ""; page++ {
		if _, seen := visited[pageURL]; seen {
			b.log.Debug("archive walk looped", "slug", slug, "url", pageURL)
			break
		}
		visited[pageURL] = struct{}{}

		fetched, err := b.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return recorded, errors.Wrapf(err, "fetch archive page %s", pageURL)
		}
		if fetched.ResponseCode != http.StatusOK {
			return recorded, errors.Errorf("fetch archive page %s: status %d", pageURL, fetched.ResponseCode)
		}

		p, err := parser.NewParser(bytes.NewReader(fetched.Body))
		if err != nil {
			return recorded, errors.Wrapf(err, "parse archive page %s", pageURL)
		}

		pub, err := b.extract(slug, pageURL, p, rules)
		if err != nil {
			return recorded, errors.Wrapf(err, "extract publication from %s", pageURL)
		}

		n, err := b.record(slug, pub)
		if err != nil {
			return recorded, err
		}
		recorded += n

		pageURL = b.nextPage(p, rules)
	}

	b.log.Info("backfilled archive", "slug", slug, "recorded", recorded)
	return recorded, nil
}

func (b *Backfiller) extract(slug, pageURL string, p parser.Parser, rules ArchiveRules) (PublicationSeen, error) {
	ref, err := p.Apply(parser.Rule{XPath: rules.RefXPath, Filter: rules.RefRegexp})
	if err != nil {
		return PublicationSeen{}, errors.Wrap(err, "extract ref")
	}

	pub := PublicationSeen{
		Slug: slug,
		Ref:  ref,
		URL:  pageURL,
	}

	if rules.TitleXPath != "" {
		title, err := p.Apply(parser.Rule{XPath: rules.TitleXPath, Filter: rules.TitleRegexp})
		if err == nil {
			pub.Title = title
		}
	}

	raw := ref
	if rules.DateXPath != "" {
		raw, err = p.Apply(parser.Rule{XPath: rules.DateXPath, Filter: rules.DateRegexp})
		if err != nil {
			return PublicationSeen{}, errors.Wrap(err, "extract date")
		}
	}
	seenAt, err := time.Parse(rules.DateFormat, raw)
	if err != nil {
		return PublicationSeen{}, errors.Wrapf(err, "parse date %q", raw)
	}
	pub.SeenAt = seenAt

	return pub, nil
}

// record inserts pub unless (slug, ref) is already known. Returns 1 when a
// new row was created.
func (b *Backfiller) record(slug string, pub PublicationSeen) (int, error) {
	if _, err := b.store.GetSeen(slug, pub.Ref); err == nil {
		b.log.Debug("publication already recorded", "slug", slug, "ref", pub.Ref)
		return 0, nil
	}
	if _, err := b.store.CreateSeen(pub); err != nil {
		return 0, errors.Wrapf(err, "record publication %s/%s", slug, pub.Ref)
	}
	return 1, nil
}

func (b *Backfiller) nextPage(p parser.Parser, rules ArchiveRules) string {
	next, err := p.Apply(parser.Rule{XPath: rules.NextXPath, Filter: rules.NextRegexp})
	if err != nil {
		return ""
	}
	return next
}
