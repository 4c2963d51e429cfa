package syncd

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/internal/diag"
	"github.com/johnstcn/comicsync/internal/discover"
	"github.com/johnstcn/comicsync/internal/discover/comicskingdom"
	"github.com/johnstcn/comicsync/internal/discover/gocomics"
	"github.com/johnstcn/comicsync/internal/fetch"
	"github.com/johnstcn/comicsync/internal/history"
	"github.com/johnstcn/comicsync/internal/session"
)

// DefaultSources builds the factories for the supported publishers from the
// configuration. GoComics is public; Comics Kingdom goes through the session
// manager, so an expired or missing session re-authenticates lazily at the
// start of a run.
func DefaultSources(cfg Config, sessions *session.Manager, log *slog.Logger) map[catalog.Source]SourceFactory {
	timeout := time.Duration(cfg.FetchTimeoutSecs) * time.Second
	dumper := diag.New(cfg.DumpDir, log)

	fetcher := fetch.New(&fetch.Args{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: cfg.UserAgent,
		Retries:   cfg.FetchRetries,
		Wait:      time.Duration(cfg.RetryWaitSecs) * time.Second,
		Logger:    log,
	})

	sources := map[catalog.Source]SourceFactory{
		catalog.SourceGoComics: func(_ context.Context) (discover.Discoverer, error) {
			return gocomics.New(&gocomics.Args{
				Fetcher:   fetcher,
				BaseURL:   cfg.GoComicsBaseURL,
				UserAgent: cfg.UserAgent,
				Timeout:   timeout,
				Dumper:    dumper,
				Logger:    log,
			}), nil
		},
	}

	if cfg.CKUsername != "" {
		sources[catalog.SourceComicsKingdom] = func(ctx context.Context) (discover.Discoverer, error) {
			driver := &comicskingdom.LoginDriver{
				BaseURL:   cfg.CKBaseURL,
				UserAgent: cfg.UserAgent,
				Timeout:   timeout,
				Logger:    log,
			}
			creds := session.Credentials{
				Username: cfg.CKUsername,
				Password: cfg.CKPassword,
			}
			state, err := sessions.Ensure(ctx, comicskingdom.Identity, creds, driver, cfg.ForceReauth)
			if err != nil {
				return nil, err
			}
			return comicskingdom.New(&comicskingdom.Args{
				BaseURL:   cfg.CKBaseURL,
				State:     state,
				UserAgent: cfg.UserAgent,
				Timeout:   timeout,
				Dumper:    dumper,
				Logger:    log,
			})
		}
	} else {
		log.Info("no comicskingdom credentials configured, source disabled")
	}

	return sources
}

// DefaultArchives maps each source to the archive walk rules used to
// bootstrap publication history for freshly added comics.
func DefaultArchives(cfg Config) ArchiveRulesFunc {
	gocomicsBase := cfg.GoComicsBaseURL
	if gocomicsBase == "" {
		gocomicsBase = gocomics.DefaultBaseURL
	}
	ckBase := cfg.CKBaseURL
	if ckBase == "" {
		ckBase = comicskingdom.DefaultBaseURL
	}

	return func(rec catalog.ComicRecord) (history.ArchiveRules, bool) {
		switch rec.Source {
		case catalog.SourceGoComics:
			return history.ArchiveRules{
				StartURL:   gocomicsBase + "/" + rec.Slug,
				RefXPath:   `//meta[@property="og:url"]/@content`,
				RefRegexp:  `/` + rec.Slug + `/(\d{4}/\d{2}/\d{2})`,
				TitleXPath: `//meta[@property="og:title"]/@content`,
				DateFormat: "2006/01/02",
				NextXPath:  `//a[contains(@class, "js-previous-comic")]/@href`,
				NextRegexp: `(.+)`,
			}, true
		case catalog.SourceComicsKingdom:
			return history.ArchiveRules{
				StartURL:   ckBase + "/" + rec.Slug,
				RefXPath:   `//link[@rel="canonical"]/@href`,
				RefRegexp:  `/` + rec.Slug + `/(\d{4}-\d{2}-\d{2})`,
				TitleXPath: `//h1`,
				DateFormat: "2006-01-02",
				NextXPath:  `//a[contains(@class, "previous-comic")]/@href`,
				NextRegexp: `(.+)`,
			}, true
		default:
			return history.ArchiveRules{}, false
		}
	}
}
