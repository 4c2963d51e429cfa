// Package gocomics discovers comics from the GoComics A-Z index. GoComics
// needs no authentication, so favorites scope degrades to the full catalog.
package gocomics

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/johnstcn/gocrawl/pkg/crawl"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/internal/diag"
	"github.com/johnstcn/comicsync/internal/discover"
	"github.com/johnstcn/comicsync/internal/fetch"
)

const (
	DefaultBaseURL = "https://www.gocomics.com"
	indexPath      = "/comics/a-to-z"
)

type Args struct {
	Fetcher   fetch.Fetcher
	Crawler   crawl.Crawler
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Dumper    *diag.Dumper
	Logger    *slog.Logger
}

type discoverer struct {
	fetcher   fetch.Fetcher
	crawler   crawl.Crawler
	baseURL   string
	userAgent string
	dumper    *diag.Dumper
	log       *slog.Logger
}

var _ discover.Discoverer = (*discoverer)(nil)
var _ discover.DetailExtractor = (*discoverer)(nil)

func New(a *Args) discover.Discoverer {
	baseURL := a.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	crawler := a.Crawler
	if crawler == nil {
		crawler = crawl.New(crawl.CrawlerOpts{Timeout: a.Timeout})
	}
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}
	return &discoverer{
		fetcher:   a.Fetcher,
		crawler:   crawler,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: a.UserAgent,
		dumper:    a.Dumper,
		log:       log,
	}
}

func (d *discoverer) Source() catalog.Source {
	return catalog.SourceGoComics
}

// Discover walks the A-Z index and yields one candidate per feature link.
// Links to index and utility pages are filtered out before yielding.
func (d *discoverer) Discover(ctx context.Context, _ discover.Scope) ([]catalog.ComicRecord, error) {
	indexURL := d.baseURL + indexPath
	p, err := d.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		return nil, errors.Wrapf(discover.ErrTransientScrape, "fetch %s: %v", indexURL, err)
	}
	if p.ResponseCode != http.StatusOK {
		return nil, errors.Wrapf(discover.ErrTransientScrape, "fetch %s: status %d", indexURL, p.ResponseCode)
	}
	d.dumper.DumpHTML("gocomics-index", p.Body)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, errors.Wrapf(discover.ErrTransientScrape, "parse %s: %v", indexURL, err)
	}

	seen := make(map[string]struct{})
	var cands []catalog.ComicRecord
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		slug, ok := d.featureSlug(sel.AttrOr("href", ""))
		if !ok {
			return
		}
		if _, dup := seen[slug]; dup {
			return
		}
		seen[slug] = struct{}{}

		name := strings.TrimSpace(sel.Text())
		if name == "" {
			name = slug
		}
		cands = append(cands, catalog.ComicRecord{
			Slug:   slug,
			Name:   name,
			URL:    d.baseURL + "/" + slug,
			Source: catalog.SourceGoComics,
		})
	})

	d.log.Info("discovered candidates", "source", d.Source(), "count", len(cands))
	return discover.Clean(cands, d.log), nil
}

// featureSlug extracts a candidate slug from an index link. Feature pages
// are single-segment site-relative paths without query parameters.
func (d *discoverer) featureSlug(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if u.IsAbs() && !strings.HasSuffix(d.baseURL, u.Host) {
		return "", false
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	path := strings.Trim(u.Path, "/")
	if path == "" || strings.Contains(path, "/") {
		return "", false
	}
	return discover.NormalizeSlug(path), true
}

// ExtractDetail fills the proper title and author from the feature page's
// og:title metadata ("Garfield by Jim Davis").
func (d *discoverer) ExtractDetail(_ context.Context, rec catalog.ComicRecord) (catalog.ComicRecord, error) {
	job := crawl.Job{
		Request: crawl.Request{
			URL:     rec.URL,
			Method:  http.MethodGet,
			Headers: map[string]string{"User-Agent": d.userAgent},
			Body:    "",
		},
		Rules: []crawl.Rule{
			{
				Name:  "title",
				XPath: `//meta[@property="og:title"]/@content`,
				Filters: []crawl.Filter{
					{
						Find:    `^(.+?)(?: by .+)?$`,
						Replace: "$1",
					},
				},
			},
			{
				Name:  "author",
				XPath: `//meta[@property="og:title"]/@content`,
				Filters: []crawl.Filter{
					{
						Find:    `^.+ by (.+)$`,
						Replace: "$1",
					},
				},
			},
		},
	}

	result, err := d.crawler.Crawl(job)
	if err != nil {
		return rec, errors.Wrapf(discover.ErrTransientScrape, "crawl %s: %v", rec.URL, err)
	}

	if r, found := result["title"]; found && r.Error == "" && len(r.Values) > 0 {
		rec.Name = r.Values[0]
	}
	if r, found := result["author"]; found && r.Error == "" && len(r.Values) > 0 {
		rec.Author = r.Values[0]
	}
	return rec, nil
}
