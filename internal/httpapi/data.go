package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/unitao/internal/dataservice"
	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/metrics"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// Option configures a router.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records request metrics and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type dataAPI struct {
	svc    *dataservice.Service
	logger *slog.Logger
}

// createRequest is the body of POST /. Data stays raw until the type is
// known: a schema registration decodes it as a schema document.
type createRequest struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Version string          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type replaceRequest struct {
	Version string         `json:"version"`
	Data    map[string]any `json:"data"`
}

// NewDataRouter returns the HTTP surface of one data service.
func NewDataRouter(svc *dataservice.Service, opts ...Option) http.Handler {
	o := buildOptions(opts)
	api := &dataAPI{svc: svc, logger: o.logger}

	r := newRouter(o.metrics, o.logger)
	r.Get("/schema", api.listSchemas)
	r.Get("/schema/{type}", api.getSchema)
	r.Post("/", api.create)

	r.Route("/journal", func(jr chi.Router) {
		jr.Get("/", api.journalKeys)
		jr.Get("/{pageId}", api.journalPage)
		jr.Get("/{type}/{id}", api.journalEntries)
		jr.Post("/{type}/{id}/{page}/{seq}/ack", api.journalAck)
	})

	r.Get("/{type}", api.list)
	r.Get("/{type}/{id}", api.read)
	r.Get("/{type}/{id}/*", api.read)
	r.Put("/{type}/{id}", api.replace)
	r.Patch("/{type}/{id}/*", api.patch)
	r.Delete("/{type}/{id}", api.delete)
	return r
}

func (a *dataAPI) listSchemas(w http.ResponseWriter, r *http.Request) {
	docs := []*schema.Document{}
	for _, sch := range a.svc.Schemas() {
		docs = append(docs, sch.Doc)
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *dataAPI) getSchema(w http.ResponseWriter, r *http.Request) {
	typ, err := param(r, "type")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	sch, err := a.svc.Schema(typ, r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sch.Doc)
}

func (a *dataAPI) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if ok, err := readBody(r, &req); err != nil || !ok {
		if err == nil {
			err = ir.Errorf(ir.CodeBadRequest, "request body is required")
		}
		writeError(w, r, a.logger, err)
		return
	}

	var (
		rec *ir.Record
		err error
	)
	if req.Type == ir.SchemaType {
		rec, err = a.registerSchema(r, req.Data)
	} else {
		var data map[string]any
		if len(req.Data) > 0 {
			if uerr := json.Unmarshal(req.Data, &data); uerr != nil {
				writeError(w, r, a.logger, ir.ValidationFailed("data", "data must be an object: %v", uerr))
				return
			}
		}
		rec, err = a.svc.Create(r.Context(), &ir.Record{ID: req.ID, Type: req.Type, Version: req.Version, Data: data})
	}
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *dataAPI) registerSchema(r *http.Request, raw json.RawMessage) (*ir.Record, error) {
	if len(raw) == 0 {
		return nil, ir.ValidationFailed("data", "schema document is required")
	}
	doc, err := schema.ParseDocument(raw)
	if err != nil {
		return nil, ir.ValidationFailed("data", "%v", err)
	}
	return a.svc.RegisterSchema(r.Context(), doc)
}

func (a *dataAPI) list(w http.ResponseWriter, r *http.Request) {
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

// read serves a plain record read and every path query under it.
func (a *dataAPI) read(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	typ, id := key[0], key[1]

	if ir.InternalTypes[typ] {
		rec, err := a.svc.Read(r.Context(), typ, id)
		if err != nil {
			writeError(w, r, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	q, err := queryir.ParseQuery(chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	res, err := a.svc.Resolve(r.Context(), typ, id, q)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Body())
}

func (a *dataAPI) replace(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	var req replaceRequest
	if ok, err := readBody(r, &req); err != nil || !ok {
		if err == nil {
			err = ir.Errorf(ir.CodeBadRequest, "request body is required")
		}
		writeError(w, r, a.logger, err)
		return
	}
	rec, err := a.svc.Replace(r.Context(), key[0], key[1], req.Version, req.Data)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// patch sets the value at the path. An empty body or null removes.
func (a *dataAPI) patch(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	path, err := queryir.ParsePath(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	var value any
	if _, err := readBody(r, &value); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	rec, err := a.svc.Patch(r.Context(), key[0], key[1], path, value)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *dataAPI) delete(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.svc.Delete(r.Context(), key[0], key[1]); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ir.Key{Type: key[0], ID: key[1]})
}

func (a *dataAPI) journalKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.svc.Journal().Keys(r.Context())
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (a *dataAPI) journalPage(w http.ResponseWriter, r *http.Request) {
	pageID, err := param(r, "pageId")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	page, err := a.svc.Journal().Page(r.Context(), pageID)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *dataAPI) journalEntries(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	list := a.svc.Journal().ListActive
	if archived, _ := strconv.ParseBool(r.URL.Query().Get("archived")); archived {
		list = a.svc.Journal().ListArchived
	}
	pages, err := list(r.Context(), key[0], key[1])
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

func (a *dataAPI) journalAck(w http.ResponseWriter, r *http.Request) {
	key, err := params(r, "type", "id", "page", "seq")
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	page, perr := strconv.Atoi(key[2])
	seq, serr := strconv.Atoi(key[3])
	if perr != nil || serr != nil {
		writeError(w, r, a.logger, ir.Errorf(ir.CodeBadRequest, "page and seq must be integers"))
		return
	}
	consumer := r.URL.Query().Get("consumer")
	if consumer == "" {
		writeError(w, r, a.logger, ir.Errorf(ir.CodeBadRequest, "consumer is required"))
		return
	}
	if err := a.svc.Journal().Ack(r.Context(), consumer, key[0], key[1], page, seq); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	entry, err := a.svc.Store().GetEntry(r.Context(), key[0], key[1], page, seq)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
