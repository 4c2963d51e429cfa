// Package web serves the admin API: catalog inspection, run status and
// manual sync triggering.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/pkg/syncd"
)

// Syncer runs catalog synchronization on demand. *syncd.Daemon satisfies it.
type Syncer interface {
	RunOnce(ctx context.Context) (syncd.RunSummary, error)
	LastSummary() (syncd.RunSummary, bool)
}

type frontend struct {
	*mux.Router
	catalog catalog.Store
	syncer  Syncer
	log     *slog.Logger

	syncing atomic.Bool
}

type Deps struct {
	Catalog catalog.Store
	Syncer  Syncer
	Logger  *slog.Logger
}

func New(deps Deps) *frontend {
	f := &frontend{
		Router:  mux.NewRouter(),
		catalog: deps.Catalog,
		syncer:  deps.Syncer,
		log:     deps.Logger,
	}

	f.HandleFunc("/api/catalog", f.listCatalog).Methods(http.MethodGet)
	f.HandleFunc("/api/status", f.status).Methods(http.MethodGet)
	f.HandleFunc("/api/sync", f.triggerSync).Methods(http.MethodPost)

	return f
}

type ListCatalogResponse struct {
	Data  []catalog.ComicRecord `json:"data"`
	Error string                `json:"error"`
}

func (f *frontend) listCatalog(w http.ResponseWriter, r *http.Request) {
	resp := ListCatalogResponse{
		Data:  []catalog.ComicRecord{},
		Error: "",
	}
	code := http.StatusOK
	data, err := f.catalog.Load()
	if err != nil {
		f.log.Error("load catalog", "err", err, "handler", "listCatalog")
		code = http.StatusInternalServerError
		resp.Error = err.Error()
	} else {
		resp.Data = data
	}

	f.writeJSON(w, code, resp, "listCatalog")
}

type StatusResponse struct {
	CatalogSize int               `json:"catalog_size"`
	Syncing     bool              `json:"syncing"`
	LastRun     *syncd.RunSummary `json:"last_run,omitempty"`
	LastRunAgo  string            `json:"last_run_ago,omitempty"`
	Error       string            `json:"error"`
}

func (f *frontend) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Syncing: f.syncing.Load(),
	}
	code := http.StatusOK

	records, err := f.catalog.Load()
	if err != nil {
		f.log.Error("load catalog", "err", err, "handler", "status")
		code = http.StatusInternalServerError
		resp.Error = err.Error()
	}
	resp.CatalogSize = len(records)

	if last, ok := f.syncer.LastSummary(); ok {
		resp.LastRun = &last
		resp.LastRunAgo = humanize.Time(last.EndedAt)
	}

	f.writeJSON(w, code, resp, "status")
}

type TriggerSyncResponse struct {
	Started bool   `json:"started"`
	Error   string `json:"error"`
}

// triggerSync kicks off a background run. At most one triggered run is in
// flight at a time; a second trigger gets 409.
func (f *frontend) triggerSync(w http.ResponseWriter, r *http.Request) {
	if !f.syncing.CompareAndSwap(false, true) {
		f.writeJSON(w, http.StatusConflict, TriggerSyncResponse{Error: "sync already in progress"}, "triggerSync")
		return
	}

	go func() {
		defer f.syncing.Store(false)
		if _, err := f.syncer.RunOnce(context.Background()); err != nil {
			f.log.Error("triggered sync failed", "err", err)
		}
	}()

	f.writeJSON(w, http.StatusAccepted, TriggerSyncResponse{Started: true}, "triggerSync")
}

func (f *frontend) writeJSON(w http.ResponseWriter, code int, resp interface{}, handler string) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		f.log.Error("write response", "err", err, "handler", handler)
	}
}
