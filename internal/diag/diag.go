// Package diag writes best-effort diagnostic artifacts (page dumps) for
// scrape debugging. Every failure here is logged and swallowed: diagnostics
// must never affect the correctness of a scrape run.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tdewolff/minify"
	"github.com/tdewolff/minify/html"
	"golang.org/x/exp/slog"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Dumper writes HTML snapshots to a directory. A nil Dumper is valid and
// drops everything.
type Dumper struct {
	dir string
	m   *minify.M
	now func() time.Time
	log *slog.Logger
}

func New(dir string, log *slog.Logger) *Dumper {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	return &Dumper{
		dir: dir,
		m:   m,
		now: time.Now,
		log: log,
	}
}

// DumpHTML writes a minified snapshot of body under a timestamped name.
func (d *Dumper) DumpHTML(name string, body []byte) {
	if d == nil || d.dir == "" {
		return
	}

	minified, err := d.m.Bytes("text/html", body)
	if err != nil {
		d.log.Debug("minify page dump", "name", name, "err", err)
		minified = body
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.log.Debug("create dump dir", "dir", d.dir, "err", err)
		return
	}

	fname := fmt.Sprintf("%s-%s.html", unsafeChars.ReplaceAllString(name, "_"), d.now().UTC().Format("20060102T150405"))
	path := filepath.Join(d.dir, fname)
	if err := os.WriteFile(path, minified, 0o644); err != nil {
		d.log.Debug("write page dump", "path", path, "err", err)
		return
	}
	d.log.Debug("wrote page dump", "path", path, "bytes", len(minified))
}
