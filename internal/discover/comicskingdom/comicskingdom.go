// Package comicskingdom discovers comics from Comics Kingdom, which gates
// its full catalog and per-user favorites behind a login. Session cookies
// are captured once by the LoginDriver and reused across runs.
package comicskingdom

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"

	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/internal/diag"
	"github.com/johnstcn/comicsync/internal/discover"
	"github.com/johnstcn/comicsync/internal/session"
)

// Identity is the session identity for the Comics Kingdom account.
const Identity = "comicskingdom"

const (
	DefaultBaseURL = "https://comicskingdom.com"
	defaultTimeout = 30 * time.Second

	loginPath     = "/login"
	catalogPath   = "/comics"
	favoritesPath = "/favorites"

	// maxCatalogPages caps a pagination walk so a cyclic next link cannot
	// spin against the publisher until the run deadline.
	maxCatalogPages = 50
)

type Args struct {
	BaseURL   string
	State     session.State
	UserAgent string
	Timeout   time.Duration
	Dumper    *diag.Dumper
	Logger    *slog.Logger
}

type discoverer struct {
	baseURL *url.URL
	http    *resty.Client
	dumper  *diag.Dumper
	log     *slog.Logger
}

var _ discover.Discoverer = (*discoverer)(nil)
var _ discover.DetailExtractor = (*discoverer)(nil)

// New returns a discoverer whose HTTP client is seeded with the cookies of
// the given session state. The live client is owned exclusively by this
// discoverer and must not be shared across concurrent tasks.
func New(a *Args) (discover.Discoverer, error) {
	baseURL, client, err := newClient(a.BaseURL, a.UserAgent, a.Timeout)
	if err != nil {
		return nil, err
	}
	client.GetClient().Jar.SetCookies(baseURL, a.State.HTTPCookies())

	log := a.Logger
	if log == nil {
		log = slog.Default()
	}
	return &discoverer{
		baseURL: baseURL,
		http:    client,
		dumper:  a.Dumper,
		log:     log,
	}, nil
}

func newClient(rawBaseURL, userAgent string, timeout time.Duration) (*url.URL, *resty.Client, error) {
	if rawBaseURL == "" {
		rawBaseURL = DefaultBaseURL
	}
	baseURL, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse base url %s", rawBaseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(rawBaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if userAgent != "" {
		client.SetHeader("user-agent", userAgent)
	}
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	client.SetTimeout(timeout)

	// 2 requests max per second so catalog pagination does not hammer
	// the publisher.
	limiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return baseURL, client, nil
}

func (d *discoverer) Source() catalog.Source {
	return catalog.SourceComicsKingdom
}

// Discover lists the account favorites or walks the paginated full catalog.
// On a mid-pagination failure the candidates collected so far are returned
// alongside the transient error.
func (d *discoverer) Discover(ctx context.Context, scope discover.Scope) ([]catalog.ComicRecord, error) {
	path := catalogPath
	if scope == discover.ScopeFavorites {
		path = favoritesPath
	}

	var cands []catalog.ComicRecord
	visited := map[string]struct{}{}
	for page := 0; page < maxCatalogPages && path != ""; page++ {
		if _, seen := visited[path]; seen {
			d.log.Debug("pagination looped", "path", path)
			break
		}
		visited[path] = struct{}{}

		res, err := d.http.R().SetContext(ctx).Get(path)
		if err != nil {
			return discover.Clean(cands, d.log), errors.Wrapf(discover.ErrTransientScrape, "get %s: %v", path, err)
		}
		if res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden {
			return discover.Clean(cands, d.log), errors.Wrapf(session.ErrAuthentication, "get %s: status %d", path, res.StatusCode())
		}
		if res.StatusCode() != http.StatusOK {
			return discover.Clean(cands, d.log), errors.Wrapf(discover.ErrTransientScrape, "get %s: status %d", path, res.StatusCode())
		}
		d.dumper.DumpHTML("comicskingdom-list", res.Body())

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
		if err != nil {
			return discover.Clean(cands, d.log), errors.Wrapf(discover.ErrTransientScrape, "parse %s: %v", path, err)
		}
		if isLoginPage(doc) {
			return discover.Clean(cands, d.log), errors.Wrap(session.ErrAuthentication, "redirected to login page")
		}

		cands = append(cands, d.extractCandidates(doc)...)

		path = doc.Find("a[rel=next]").AttrOr("href", "")
	}

	d.log.Info("discovered candidates", "source", d.Source(), "scope", scope, "count", len(cands))
	return discover.Clean(cands, d.log), nil
}

func (d *discoverer) extractCandidates(doc *goquery.Document) []catalog.ComicRecord {
	var cands []catalog.ComicRecord
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		u, err := url.Parse(sel.AttrOr("href", ""))
		if err != nil {
			return
		}
		if u.IsAbs() && u.Host != d.baseURL.Host {
			return
		}
		if u.RawQuery != "" {
			return
		}
		path := strings.Trim(u.Path, "/")
		if path == "" || strings.Contains(path, "/") {
			return
		}

		slug := discover.NormalizeSlug(path)
		name := strings.TrimSpace(sel.Text())
		if name == "" {
			name = slug
		}
		cands = append(cands, catalog.ComicRecord{
			Slug:   slug,
			Name:   name,
			URL:    d.baseURL.Scheme + "://" + d.baseURL.Host + "/" + slug,
			Source: catalog.SourceComicsKingdom,
		})
	})
	return cands
}

// ExtractDetail fills the author from the feature page byline.
func (d *discoverer) ExtractDetail(ctx context.Context, rec catalog.ComicRecord) (catalog.ComicRecord, error) {
	res, err := d.http.R().SetContext(ctx).Get("/" + rec.Slug)
	if err != nil {
		return rec, errors.Wrapf(discover.ErrTransientScrape, "get /%s: %v", rec.Slug, err)
	}
	if res.StatusCode() != http.StatusOK {
		return rec, errors.Wrapf(discover.ErrTransientScrape, "get /%s: status %d", rec.Slug, res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return rec, errors.Wrapf(discover.ErrTransientScrape, "parse /%s: %v", rec.Slug, err)
	}

	if byline := strings.TrimSpace(doc.Find(".feature-byline, .comic-author").First().Text()); byline != "" {
		rec.Author = strings.TrimSpace(strings.TrimPrefix(byline, "By "))
	}
	if title := strings.TrimSpace(doc.Find("h1").First().Text()); title != "" {
		rec.Name = title
	}
	return rec, nil
}

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("form input[name=password], form input[type=password]").Length() > 0
}
