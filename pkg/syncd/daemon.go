// Package syncd orchestrates catalog synchronization runs: it ensures
// publisher sessions, fans discovery out per source, merges candidates into
// the catalog once, and refreshes stale cadence classifications.
package syncd

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/cadence"
	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/internal/discover"
	"github.com/johnstcn/comicsync/internal/history"
)

// SourceFactory builds a ready discoverer for one run, performing whatever
// session setup the publisher needs. A factory failure skips the source for
// the run without failing the others.
type SourceFactory func(ctx context.Context) (discover.Discoverer, error)

// ArchiveRulesFunc returns the archive walk rules for a comic, or false when
// the source has no walkable archive.
type ArchiveRulesFunc func(rec catalog.ComicRecord) (history.ArchiveRules, bool)

type Deps struct {
	Config     Config
	Catalog    catalog.Store
	History    history.Store
	Backfiller *history.Backfiller
	Archives   ArchiveRulesFunc
	Sources    map[catalog.Source]SourceFactory
	Logger     *slog.Logger
	Now        func() time.Time
	After      func(d time.Duration) <-chan time.Time
}

// SourceResult is the per-source outcome of one run.
type SourceResult struct {
	Seen  int    `json:"seen"`
	Added int    `json:"added"`
	Err   string `json:"err,omitempty"`
}

// RunSummary is the outcome of one synchronization run.
type RunSummary struct {
	StartedAt time.Time                       `json:"started_at"`
	EndedAt   time.Time                       `json:"ended_at"`
	Sources   map[catalog.Source]SourceResult `json:"sources"`
	Added     int                             `json:"added"`
	Analyzed  int                             `json:"analyzed"`
}

type Daemon struct {
	cfg        Config
	catalog    catalog.Store
	history    history.Store
	backfiller *history.Backfiller
	archives   ArchiveRulesFunc
	sources    map[catalog.Source]SourceFactory
	log        *slog.Logger
	now        func() time.Time
	after      func(d time.Duration) <-chan time.Time

	stop chan struct{}

	// runMu serializes whole runs: the interval loop and a manually
	// triggered run must never merge concurrently.
	runMu sync.Mutex

	mu   sync.Mutex
	last *RunSummary
}

func New(deps Deps) *Daemon {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	after := deps.After
	if after == nil {
		after = time.After
	}
	return &Daemon{
		cfg:        deps.Config,
		catalog:    deps.Catalog,
		history:    deps.History,
		backfiller: deps.Backfiller,
		archives:   deps.Archives,
		sources:    deps.Sources,
		log:        log,
		now:        now,
		after:      after,
		stop:       make(chan struct{}),
	}
}

// LastSummary returns the summary of the most recent completed run, if any.
func (d *Daemon) LastSummary() (RunSummary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return RunSummary{}, false
	}
	return *d.last, true
}

// Run performs synchronization runs at the configured interval until Stop is
// called. Run failures are logged and do not end the loop.
func (d *Daemon) Run(ctx context.Context) {
	interval := time.Duration(d.cfg.SyncIntervalSecs) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-d.after(interval):
			if _, err := d.RunOnce(ctx); err != nil {
				d.log.Error("sync run failed", "err", err)
			}
		}
	}
}

func (d *Daemon) Stop() {
	close(d.stop)
}

// RunOnce performs a single synchronization run. Discovery runs in parallel
// across sources; the merge itself is a single serialized step. The run
// fails only when every source fails, so one misbehaving publisher cannot
// block updates from the others.
func (d *Daemon) RunOnce(ctx context.Context) (RunSummary, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.RunTimeoutSecs)*time.Second)
	defer cancel()

	summary := RunSummary{
		StartedAt: d.now(),
		Sources:   make(map[catalog.Source]SourceResult, len(d.sources)),
	}

	existing, err := d.catalog.Load()
	if err != nil {
		return summary, errors.Wrap(err, "load catalog")
	}

	discoverers, candidates := d.discoverAll(ctx, &summary)

	merged, added := catalog.Merge(existing, candidates)
	summary.Added = added
	for i := range merged[len(merged)-added:] {
		rec := &merged[len(merged)-added+i]
		res := summary.Sources[rec.Source]
		res.Added++
		summary.Sources[rec.Source] = res
	}

	d.enrichNew(ctx, discoverers, merged, added)
	summary.Analyzed = d.refreshCadence(ctx, merged)

	if err := d.catalog.Save(merged); err != nil {
		return summary, errors.Wrap(err, "save catalog")
	}

	summary.EndedAt = d.now()
	d.mu.Lock()
	d.last = &summary
	d.mu.Unlock()

	d.log.Info("sync run complete",
		"added", summary.Added,
		"analyzed", summary.Analyzed,
		"sources", len(summary.Sources),
		"took", summary.EndedAt.Sub(summary.StartedAt),
	)

	if len(d.sources) > 0 && d.allSourcesFailed(summary) {
		return summary, errors.New("all sources failed")
	}
	return summary, nil
}

func (d *Daemon) allSourcesFailed(summary RunSummary) bool {
	for _, res := range summary.Sources {
		if res.Err == "" {
			return false
		}
	}
	return true
}

// discoverAll fans discovery out per source and gathers the candidates. Each
// source's failure is recorded in the summary and never propagated.
func (d *Daemon) discoverAll(ctx context.Context, summary *RunSummary) (map[catalog.Source]discover.Discoverer, []catalog.ComicRecord) {
	scope := discover.ScopeFull
	if d.cfg.FavoritesOnly {
		scope = discover.ScopeFavorites
	}

	type outcome struct {
		src   catalog.Source
		disc  discover.Discoverer
		cands []catalog.ComicRecord
		err   error
	}

	outcomes := make(chan outcome, len(d.sources))
	var wg sync.WaitGroup
	for src, factory := range d.sources {
		wg.Add(1)
		go func(src catalog.Source, factory SourceFactory) {
			defer wg.Done()
			disc, err := factory(ctx)
			if err != nil {
				outcomes <- outcome{src: src, err: err}
				return
			}
			cands, err := d.discoverWithRetry(ctx, disc, scope)
			outcomes <- outcome{src: src, disc: disc, cands: cands, err: err}
		}(src, factory)
	}
	wg.Wait()
	close(outcomes)

	discoverers := make(map[catalog.Source]discover.Discoverer, len(d.sources))
	var candidates []catalog.ComicRecord
	for o := range outcomes {
		res := SourceResult{Seen: len(o.cands)}
		if o.err != nil {
			res.Err = o.err.Error()
			d.log.Error("source failed", "source", o.src, "partial", len(o.cands), "err", o.err)
		}
		summary.Sources[o.src] = res
		if o.disc != nil {
			discoverers[o.src] = o.disc
		}
		// Partial results from a failed source are still valid.
		candidates = append(candidates, o.cands...)
	}
	return discoverers, candidates
}

// discoverWithRetry retries transient scrape failures with a doubling wait.
// Authentication failures are never retried; hammering a login endpoint with
// rejected credentials risks locking the account.
func (d *Daemon) discoverWithRetry(ctx context.Context, disc discover.Discoverer, scope discover.Scope) ([]catalog.ComicRecord, error) {
	wait := time.Duration(d.cfg.RetryWaitSecs) * time.Second
	var best []catalog.ComicRecord
	for attempt := 0; ; attempt++ {
		cands, err := disc.Discover(ctx, scope)
		if len(cands) > len(best) {
			best = cands
		}
		if err == nil {
			return best, nil
		}
		if !errors.Is(err, discover.ErrTransientScrape) || attempt >= d.cfg.RetryAttempts {
			return best, err
		}
		d.log.Warn("retrying discovery", "source", disc.Source(), "attempt", attempt+1, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return best, ctx.Err()
		case <-d.after(wait):
		}
		wait *= 2
	}
}

// enrichNew fills author and proper title on records added this run, when
// the source can extract detail. Best effort: enrichment failures leave the
// index-derived fields in place.
func (d *Daemon) enrichNew(ctx context.Context, discoverers map[catalog.Source]discover.Discoverer, merged []catalog.ComicRecord, added int) {
	for i := len(merged) - added; i < len(merged); i++ {
		disc, ok := discoverers[merged[i].Source]
		if !ok {
			continue
		}
		extractor, ok := disc.(discover.DetailExtractor)
		if !ok {
			continue
		}
		rec, err := extractor.ExtractDetail(ctx, merged[i])
		if err != nil {
			d.log.Debug("detail extraction failed", "slug", merged[i].Slug, "err", err)
			continue
		}
		rec.IsUpdated = true
		merged[i] = rec
	}
}

// refreshCadence re-classifies records whose classification is missing or
// stale. Records short on publication history are backfilled from the
// publisher archive first when archive rules exist for the source.
func (d *Daemon) refreshCadence(ctx context.Context, merged []catalog.ComicRecord) int {
	if d.history == nil {
		d.log.Debug("no history store, skipping cadence analysis")
		return 0
	}
	staleness := time.Duration(d.cfg.CadenceStaleDays) * 24 * time.Hour

	var analyzed int
	for i := range merged {
		rec := &merged[i]
		if rec.PublishingFrequency != nil && d.now().Sub(rec.FrequencyCheckedAt) < staleness {
			continue
		}

		dates, err := d.history.GetRecentDates(rec.Slug, d.cfg.CadenceSampleLimit)
		if err != nil {
			d.log.Error("fetching publication dates", "slug", rec.Slug, "err", err)
			continue
		}
		if len(dates) < cadence.MinSamples {
			dates = d.backfill(ctx, *rec, dates)
		}

		c := cadence.Analyze(dates)
		rec.PublishingFrequency = &c
		rec.FrequencyCheckedAt = d.now()
		analyzed++
		d.log.Debug("classified cadence", "slug", rec.Slug, "type", c.Type, "confidence", c.Confidence)
	}
	return analyzed
}

func (d *Daemon) backfill(ctx context.Context, rec catalog.ComicRecord, dates []time.Time) []time.Time {
	if d.backfiller == nil || d.archives == nil {
		return dates
	}
	rules, ok := d.archives(rec)
	if !ok {
		return dates
	}
	recorded, err := d.backfiller.Backfill(ctx, rec.Slug, rules)
	if err != nil {
		d.log.Warn("archive backfill failed", "slug", rec.Slug, "recorded", recorded, "err", err)
	}
	if recorded == 0 {
		return dates
	}
	refreshed, err := d.history.GetRecentDates(rec.Slug, d.cfg.CadenceSampleLimit)
	if err != nil {
		d.log.Error("fetching publication dates after backfill", "slug", rec.Slug, "err", err)
		return dates
	}
	return refreshed
}
