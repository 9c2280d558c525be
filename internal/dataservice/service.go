package dataservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/journal"
	"github.com/roach88/unitao/internal/metrics"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
	"github.com/roach88/unitao/internal/traverse"
)

// Remote reaches records and schemas hosted by other data services,
// normally through the inventory service's referral map.
type Remote interface {
	Schemas(ctx context.Context) ([]*schema.Schema, error)
	Schema(ctx context.Context, typ, version string) (*schema.Schema, error)
	Record(ctx context.Context, typ, id string) (*ir.Record, error)
	List(ctx context.Context, typ string) ([]string, error)
	Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error)
}

// Service is one data service: a schema catalog and record store with its
// change journal.
//
// Thread-safety: all methods are safe for concurrent use. Mutations of one
// (type, id) are serialized; different keys proceed in parallel.
type Service struct {
	name       string
	store      *store.Store
	journal    *journal.Journal
	catalog    *schema.Catalog
	locks      *keyLocks
	remote     Remote
	resolver   *traverse.Resolver
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hopTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithName sets the service name used in logs. Default: "data".
func WithName(name string) Option {
	return func(s *Service) {
		s.name = name
	}
}

// WithRemote enables cross-store reference checks and traversal.
func WithRemote(r Remote) Option {
	return func(s *Service) {
		s.remote = r
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

// WithHopTimeout bounds each remote fetch during traversal.
func WithHopTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.hopTimeout = d
	}
}

// New creates a Service over st and loads every persisted schema version.
func New(ctx context.Context, st *store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		name:   "data",
		store:  st,
		locks:  newKeyLocks(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", s.name)
	s.journal = journal.New(st, journal.WithLogger(s.logger))
	s.catalog = schema.NewCatalog(s)
	s.resolver = traverse.New(s.Graph(), traverse.WithHopTimeout(s.hopTimeout))

	if err := s.loadSchemas(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Journal returns the service's journal.
func (s *Service) Journal() *journal.Journal { return s.journal }

// Catalog returns the service's schema catalog.
func (s *Service) Catalog() *schema.Catalog { return s.catalog }

// Store returns the underlying store.
func (s *Service) Store() *store.Store { return s.store }

// Close releases journal waiters. The store is owned by the caller.
func (s *Service) Close() {
	s.journal.Close()
}

func (s *Service) loadSchemas(ctx context.Context) error {
	rows, err := s.store.LoadSchemas(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		doc, err := schema.ParseDocument(row.Document)
		if err != nil {
			return fmt.Errorf("load schema %s@%s: %w", row.Type, row.Version, err)
		}
		sch, err := schema.Compile(doc)
		if err != nil {
			return fmt.Errorf("load schema %s@%s: %w", row.Type, row.Version, err)
		}
		s.catalog.Load(sch)
	}
	s.metrics.SetSchemaTypes(len(s.catalog.List()))
	if len(rows) > 0 {
		s.logger.Info("schemas loaded", "versions", len(rows))
	}
	return nil
}

// commit writes a mutation through the journal and records metrics.
func (s *Service) commit(ctx context.Context, m store.Mutation) (*ir.JournalEntry, error) {
	entry, err := s.journal.Commit(ctx, m)
	if err != nil {
		return nil, err
	}
	s.metrics.JournalAppended(string(entry.Op))
	return entry, nil
}

// isLocal reports whether typ is a user type registered here.
func (s *Service) isLocal(typ string) bool {
	return s.catalog.Has(typ)
}
