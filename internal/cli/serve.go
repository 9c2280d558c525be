package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/unitao/internal/cmtindex"
	"github.com/roach88/unitao/internal/config"
	"github.com/roach88/unitao/internal/dataservice"
	"github.com/roach88/unitao/internal/federation"
	"github.com/roach88/unitao/internal/httpapi"
	"github.com/roach88/unitao/internal/metrics"
	"github.com/roach88/unitao/internal/store"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand groups the long-running servers.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a data service or the inventory service",
	}
	cmd.AddCommand(newServeDataCommand(rootOpts))
	cmd.AddCommand(newServeInventoryCommand(rootOpts))
	return cmd
}

func newServeDataCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name, listen, database, inventoryURL string
	)
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Run a data service backed by SQLite",
		Long: `Run one data service: the schema catalog, record store, journal and
CmtIndex engine of a single store, served over HTTP.

With an inventory URL the service checks references to types it does not
host, follows them on traversal and writes index entries into remote
records through the inventory service.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return f.Fail(ExitCommandError, "load config", err)
			}
			d := &cfg.DataService
			flags := cmd.Flags()
			if flags.Changed("name") {
				d.Name = name
			}
			if flags.Changed("listen") {
				d.Listen = listen
			}
			if flags.Changed("db") {
				d.Database = database
			}
			if flags.Changed("inventory") {
				d.InventoryURL = inventoryURL
			}
			if err := cfg.ValidateDataService(); err != nil {
				return f.Fail(ExitCommandError, "invalid config", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := rootOpts.newLogger(cmd.ErrOrStderr())
			srv, err := newDataServer(ctx, *d, logger)
			if err != nil {
				return f.Fail(ExitCommandError, "start data service", err)
			}
			defer srv.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("cmtindex: %w", err)
				}
				return nil
			})
			g.Go(func() error { return listenAndServe(gctx, d.Listen, srv.handler, logger) })
			if err := g.Wait(); err != nil {
				return f.Fail(ExitCommandError, "data service stopped", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name for logs and metrics (default from config: data)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config: :8001)")
	cmd.Flags().StringVar(&database, "db", "", "SQLite database path (default from config: unitao.db)")
	cmd.Flags().StringVar(&inventoryURL, "inventory", "", "inventory service URL; empty runs standalone")
	return cmd
}

func newServeInventoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		listen       string
		stores       []string
		syncInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Run the inventory service over a set of data services",
		Long: `Run the inventory service. It merges the schemas of every configured
store, routes each data type to the store that declares it, and resolves
path queries across stores.

Stores come from the config file or from repeated --store name=url flags,
which replace the configured list.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return f.Fail(ExitCommandError, "load config", err)
			}
			inv := &cfg.Inventory
			flags := cmd.Flags()
			if flags.Changed("listen") {
				inv.Listen = listen
			}
			if flags.Changed("store") {
				if inv.Stores, err = parseStores(stores); err != nil {
					return f.Fail(ExitCommandError, "invalid --store", err)
				}
			}
			if flags.Changed("sync-interval") {
				inv.SyncInterval = config.Duration(syncInterval)
			}
			if err := cfg.ValidateInventory(); err != nil {
				return f.Fail(ExitCommandError, "invalid config", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := rootOpts.newLogger(cmd.ErrOrStderr())
			srv, err := newInventoryServer(*inv, logger)
			if err != nil {
				return f.Fail(ExitCommandError, "start inventory service", err)
			}
			srv.sync(ctx)

			g, gctx := errgroup.WithContext(ctx)
			if every := inv.SyncInterval.Std(); every > 0 {
				g.Go(func() error {
					srv.syncEvery(gctx, every)
					return nil
				})
			}
			g.Go(func() error { return listenAndServe(gctx, inv.Listen, srv.handler, logger) })
			if err := g.Wait(); err != nil {
				return f.Fail(ExitCommandError, "inventory service stopped", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config: :8000)")
	cmd.Flags().StringArrayVar(&stores, "store", nil, "data service as name=url (repeatable)")
	cmd.Flags().DurationVar(&syncInterval, "sync-interval", 0, "re-poll stores at this interval; 0 disables")
	return cmd
}

// dataServer is one wired data service.
type dataServer struct {
	store   *store.Store
	svc     *dataservice.Service
	engine  *cmtindex.Engine
	handler http.Handler
}

// newDataServer opens the store and wires the service, its CmtIndex
// engine and its router. The engine is initialised before the handler is
// returned, so no write is served before the consumer is registered.
func newDataServer(ctx context.Context, c config.DataService, logger *slog.Logger) (*dataServer, error) {
	st, err := store.Open(c.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New("data")
	opts := []dataservice.Option{
		dataservice.WithName(c.Name),
		dataservice.WithLogger(logger),
		dataservice.WithMetrics(m),
		dataservice.WithHopTimeout(c.HopTimeout.Std()),
	}
	if c.InventoryURL != "" {
		opts = append(opts, dataservice.WithRemote(federation.NewInventoryClient(c.InventoryURL, nil)))
	}
	svc, err := dataservice.New(ctx, st, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := cmtindex.New(svc.Journal(), svc.Store(), svc.Graph(),
		cmtindex.WithLogger(logger.With("service", c.Name)),
		cmtindex.WithMetrics(m),
		cmtindex.WithBackoff(c.Index.Policy()),
	)
	if err := engine.Init(ctx); err != nil {
		svc.Close()
		st.Close()
		return nil, fmt.Errorf("cmtindex init: %w", err)
	}

	return &dataServer{
		store:   st,
		svc:     svc,
		engine:  engine,
		handler: httpapi.NewDataRouter(svc, httpapi.WithLogger(logger), httpapi.WithMetrics(m)),
	}, nil
}

// Close releases the journal waiters and closes the store.
func (s *dataServer) Close() {
	s.svc.Close()
	s.store.Close()
}

// inventoryServer is the wired inventory service.
type inventoryServer struct {
	svc     *federation.Service
	handler http.Handler
	logger  *slog.Logger
}

func newInventoryServer(c config.Inventory, logger *slog.Logger) (*inventoryServer, error) {
	m := metrics.New("inventory")
	svc, err := federation.New(c.Stores,
		federation.WithHopTimeout(c.HopTimeout.Std()),
		federation.WithLogger(logger),
		federation.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	return &inventoryServer{
		svc:     svc,
		handler: httpapi.NewInventoryRouter(svc, httpapi.WithLogger(logger), httpapi.WithMetrics(m)),
		logger:  logger,
	}, nil
}

// sync polls every store once. Unreachable stores are logged; the
// service keeps serving whatever it could merge.
func (s *inventoryServer) sync(ctx context.Context) {
	res, err := s.svc.SyncSchemas(ctx)
	if err != nil {
		s.logger.Error("schema sync failed", "error", err)
		return
	}
	if failed := res.Failed(); len(failed) > 0 {
		s.logger.Warn("stores unreachable during sync", "stores", failed)
	}
}

func (s *inventoryServer) syncEvery(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sync(ctx)
		}
	}
}

// listenAndServe serves h on addr until ctx is cancelled, then shuts the
// server down gracefully.
func listenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped", "addr", addr)
	return nil
}

// parseStores parses name=url pairs.
func parseStores(specs []string) ([]federation.Store, error) {
	out := make([]federation.Store, 0, len(specs))
	for _, s := range specs {
		name, url, ok := strings.Cut(s, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("%q: expected name=url", s)
		}
		out = append(out, federation.Store{Name: name, URL: url})
	}
	return out, nil
}
