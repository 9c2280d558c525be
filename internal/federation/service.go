package federation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/metrics"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/traverse"
)

// DefaultHopTimeout bounds one call to a data service.
const DefaultHopTimeout = 5 * time.Second

// Store is one configured data service.
type Store struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Referral routes a data type to the store that declares it. Conflicts
// lists every store that declared the type when more than one did.
type Referral struct {
	DataType  string   `json:"dataType"`
	Store     string   `json:"store"`
	URL       string   `json:"url"`
	Version   string   `json:"version"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// StoreStatus is the sync state of one store.
type StoreStatus struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Types    []string  `json:"types"`
	LastSync time.Time `json:"lastSync,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// SyncResult reports one SyncSchemas run.
type SyncResult struct {
	Stores    []StoreStatus       `json:"stores"`
	Conflicts map[string][]string `json:"conflicts,omitempty"`
}

// Failed returns the names of stores that could not be reached.
func (r *SyncResult) Failed() []string {
	var out []string
	for _, s := range r.Stores {
		if s.Error != "" {
			out = append(out, s.Name)
		}
	}
	return out
}

// Service is the inventory service: it merges the schemas of every
// configured store, routes types to stores, and resolves path queries
// across them.
//
// Thread-safety: all methods are safe for concurrent use. SyncSchemas
// replaces the merged view atomically.
type Service struct {
	stores     []Store
	clients    map[string]Client
	hopTimeout time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	resolver   *traverse.Resolver

	mu        sync.RWMutex
	contrib   map[string][]*schema.Schema // per store, kept when a sync fails
	status    map[string]StoreStatus
	schemas   map[string]*schema.Schema
	referrals map[string]Referral
}

// Option configures a Service.
type Option func(*Service)

// WithHopTimeout bounds each call to a data service. Default: DefaultHopTimeout.
func WithHopTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.hopTimeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithHTTPClient sets the HTTP client used for StoreClients.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		for _, st := range s.stores {
			s.clients[st.Name] = NewStoreClient(st.Name, st.URL, hc)
		}
	}
}

// WithClient replaces the client of one configured store.
func WithClient(name string, c Client) Option {
	return func(s *Service) {
		s.clients[name] = c
	}
}

// New creates a Service over stores in configuration order. Store names
// must be unique and non-empty.
func New(stores []Store, opts ...Option) (*Service, error) {
	s := &Service{
		stores:     slices.Clone(stores),
		clients:    map[string]Client{},
		hopTimeout: DefaultHopTimeout,
		logger:     slog.Default(),
		now:        time.Now,
		contrib:    map[string][]*schema.Schema{},
		status:     map[string]StoreStatus{},
		schemas:    map[string]*schema.Schema{},
		referrals:  map[string]Referral{},
	}
	for _, st := range s.stores {
		if st.Name == "" {
			return nil, fmt.Errorf("store name is required")
		}
		if _, dup := s.clients[st.Name]; dup {
			return nil, fmt.Errorf("duplicate store %q", st.Name)
		}
		s.clients[st.Name] = NewStoreClient(st.Name, st.URL, nil)
		s.status[st.Name] = StoreStatus{Name: st.Name, URL: st.URL, Types: []string{}}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = traverse.New(&source{s: s}, traverse.WithHopTimeout(s.hopTimeout))
	return s, nil
}

// SyncSchemas polls every store concurrently and rebuilds the merged
// catalog and referral map. Stores are merged in configuration order and
// the last declarer of a type wins; an unreachable store keeps its
// previous contribution.
func (s *Service) SyncSchemas(ctx context.Context) (*SyncResult, error) {
	type fetched struct {
		schemas []*schema.Schema
		err     error
	}
	results := make([]fetched, len(s.stores))

	g, gctx := errgroup.WithContext(ctx)
	for i, st := range s.stores {
		client := s.clients[st.Name]
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, s.hopTimeout)
			defer cancel()
			schemas, err := client.Schemas(hctx)
			if err != nil && hctx.Err() == context.DeadlineExceeded {
				err = ir.Unavailable(st.Name, err)
			}
			results[i] = fetched{schemas: schemas, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i, st := range s.stores {
		status := s.status[st.Name]
		if err := results[i].err; err != nil {
			status.Error = err.Error()
			s.logger.Warn("store sync failed", "store", st.Name, "error", err)
			s.metrics.StoreSynced(st.Name, "error")
		} else {
			s.contrib[st.Name] = results[i].schemas
			status.Error = ""
			status.LastSync = now
			status.Types = typeNames(results[i].schemas)
			s.metrics.StoreSynced(st.Name, "ok")
		}
		s.status[st.Name] = status
	}

	conflicts := s.rebuild()
	for typ, stores := range conflicts {
		s.logger.Warn("data type declared by several stores", "type", typ, "stores", stores, "winner", stores[len(stores)-1])
	}
	s.metrics.SetSchemaTypes(len(s.schemas))

	res := &SyncResult{Conflicts: conflicts}
	for _, st := range s.stores {
		res.Stores = append(res.Stores, s.status[st.Name])
	}
	return res, nil
}

// rebuild merges contributions in configuration order. Caller holds mu.
func (s *Service) rebuild() map[string][]string {
	schemas := map[string]*schema.Schema{}
	referrals := map[string]Referral{}
	declarers := map[string][]string{}
	for _, st := range s.stores {
		for _, sch := range s.contrib[st.Name] {
			schemas[sch.ID] = sch
			referrals[sch.ID] = Referral{DataType: sch.ID, Store: st.Name, URL: st.URL, Version: sch.Version}
			declarers[sch.ID] = append(declarers[sch.ID], st.Name)
		}
	}

	var conflicts map[string][]string
	for typ, stores := range declarers {
		if len(stores) < 2 {
			continue
		}
		if conflicts == nil {
			conflicts = map[string][]string{}
		}
		conflicts[typ] = stores
		ref := referrals[typ]
		ref.Conflicts = stores
		referrals[typ] = ref
	}
	s.schemas = schemas
	s.referrals = referrals
	return conflicts
}

// GetSchema returns the merged schema of typ.
func (s *Service) GetSchema(typ string) (*schema.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schemas[typ]
	if !ok {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return sch, nil
}

// SchemaVersion returns typ at version. The merged schema answers when
// version is empty or current; older versions are fetched from the store
// serving typ.
func (s *Service) SchemaVersion(ctx context.Context, typ, version string) (*schema.Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, s.hopTimeout)
	defer cancel()
	return (&source{s: s}).Schema(ctx, typ, version)
}

// Schemas returns the merged catalog sorted by type.
func (s *Service) Schemas() []*schema.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Schema, 0, len(s.schemas))
	for _, typ := range ir.SortedKeys(s.schemas) {
		out = append(out, s.schemas[typ])
	}
	return out
}

// GetReferral returns the store serving typ.
func (s *Service) GetReferral(typ string) (Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.referrals[typ]
	if !ok {
		return Referral{}, ir.NotFound("type %s not found", typ)
	}
	return ref, nil
}

// Referrals returns the referral map sorted by type.
func (s *Service) Referrals() []Referral {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Referral, 0, len(s.referrals))
	for _, typ := range ir.SortedKeys(s.referrals) {
		out = append(out, s.referrals[typ])
	}
	return out
}

// Stores returns the status of every store in configuration order.
func (s *Service) Stores() []StoreStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoreStatus, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, s.status[st.Name])
	}
	return out
}

// Store returns the status of one store.
func (s *Service) Store(name string) (StoreStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[name]
	if !ok {
		return StoreStatus{}, ir.NotFound("store %s not found", name)
	}
	return st, nil
}

// List returns the ids of typ from the store that serves it.
func (s *Service) List(ctx context.Context, typ string) ([]string, error) {
	client, ref, err := s.route(typ)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.hopTimeout)
	defer cancel()
	ids, err := client.List(ctx, typ)
	return ids, hopError(ref.Store, err)
}

// Record fetches (typ, id) from the store that serves typ.
func (s *Service) Record(ctx context.Context, typ, id string) (*ir.Record, error) {
	client, ref, err := s.route(typ)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.hopTimeout)
	defer cancel()
	rec, err := client.Record(ctx, typ, id)
	return rec, hopError(ref.Store, err)
}

// ResolvePath walks q from (typ, id), switching store at every reference
// hop through the referral map.
func (s *Service) ResolvePath(ctx context.Context, typ, id string, q queryir.Query) (*traverse.Result, error) {
	return s.resolver.Resolve(ctx, typ, id, q)
}

func (s *Service) route(typ string) (Client, Referral, error) {
	ref, err := s.GetReferral(typ)
	if err != nil {
		return nil, Referral{}, err
	}
	client, ok := s.clients[ref.Store]
	if !ok {
		return nil, Referral{}, ir.NotFound("store %s not found", ref.Store)
	}
	return client, ref, nil
}

// hopError reports an expired hop as UNAVAILABLE for the store.
func hopError(store string, err error) error {
	if err != nil && isUnavailable(err) && !ir.IsCode(err, ir.CodeUnavailable) {
		return ir.Unavailable(store, err)
	}
	return err
}

func typeNames(schemas []*schema.Schema) []string {
	names := make([]string, 0, len(schemas))
	for _, sch := range schemas {
		names = append(names, sch.ID)
	}
	slices.Sort(names)
	return names
}
