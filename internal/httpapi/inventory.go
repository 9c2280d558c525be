package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/unitao/internal/federation"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

type inventoryAPI struct {
	svc    *federation.Service
	logger *slog.Logger
}

// NewInventoryRouter returns the HTTP surface of the inventory service. It
// is read-only apart from POST /sync.
func NewInventoryRouter(svc *federation.Service, opts ...Option) http.Handler {
	o := buildOptions(opts)
	api := &inventoryAPI{svc: svc, logger: o.logger}

	r := newRouter(o.metrics, o.logger)
	r.Get("/schema", api.listSchemas)
	r.Get("/schema/{type}", api.getSchema)
	r.Get("/inventory", api.listStores)
	r.Get("/inventory/{store}", api.getStore)
	r.Get("/referral", api.listReferrals)
	r.Get("/referral/{type}", api.getReferral)
	r.Post("/sync", api.sync)
	r.Get("/{type}", api.list)
	r.Get("/{type}/{id}", api.resolve)
	r.Get("/{type}/{id}/*", api.resolve)
	return r
}

func (a *inventoryAPI) listSchemas(w http.ResponseWriter, r *http.Request) {
	docs := []*schema.Document{}
	for _, sch := range a.svc.Schemas() {
		docs = append(docs, sch.Doc)
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *inventoryAPI) getSchema(w http.ResponseWriter, r *http.Request) {
	typ, err := param(r, "type")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	sch, err := a.svc.SchemaVersion(r.Context(), typ, r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sch.Doc)
}

func (a *inventoryAPI) listStores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Stores())
}

func (a *inventoryAPI) getStore(w http.ResponseWriter, r *http.Request) {
	name, err := param(r, "store")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	st, err := a.svc.Store(name)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *inventoryAPI) listReferrals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Referrals())
}

func (a *inventoryAPI) getReferral(w http.ResponseWriter, r *http.Request) {
	typ, err := param(r, "type")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	ref, err := a.svc.GetReferral(typ)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (a *inventoryAPI) sync(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.SyncSchemas(r.Context())
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *inventoryAPI) list(w http.ResponseWriter, r *http.Request) {
	typ, err := param(r, "type")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	ids, err := a.svc.List(r.Context(), typ)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (a *inventoryAPI) resolve(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	q, err := queryir.ParseQuery(chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	res, err := a.svc.ResolvePath(r.Context(), key[0], key[1], q)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Body())
}
