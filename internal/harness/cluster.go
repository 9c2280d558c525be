package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/roach88/unitao/internal/cmtindex"
	"github.com/roach88/unitao/internal/dataservice"
	"github.com/roach88/unitao/internal/federation"
	"github.com/roach88/unitao/internal/httpapi"
	"github.com/roach88/unitao/internal/store"
)

// maxSettleRounds bounds the drain loop of settle. Index writes into other
// stores journal new entries there, so one round may wake another engine.
const maxSettleRounds = 16

// quickBackoff keeps transient index failures from stalling a scenario.
var quickBackoff = cmtindex.Backoff{
	Initial:  time.Millisecond,
	Factor:   1,
	Max:      time.Millisecond,
	Attempts: 2,
}

// node is one data service of the cluster.
type node struct {
	name   string
	store  *store.Store
	svc    *dataservice.Service
	engine *cmtindex.Engine
	srv    *httptest.Server
}

// cluster is a set of in-process data services, joined by an inventory
// service when there is more than one.
type cluster struct {
	nodes     []*node
	byName    map[string]*node
	inventory *federation.Service
	invSrv    *httptest.Server
	logger    *slog.Logger
}

// startCluster opens one in-memory store per StoreSpec and registers each
// store's schemas. The inventory is synced and every engine initialised
// before it returns.
func startCluster(ctx context.Context, specs []StoreSpec, logger *slog.Logger) (c *cluster, err error) {
	c = &cluster{byName: map[string]*node{}, logger: logger}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	federated := len(specs) > 1
	var invURL string
	if federated {
		// The listener exists before Start, so the stores can be given
		// the inventory URL before the inventory knows the stores.
		c.invSrv = httptest.NewUnstartedServer(nil)
		invURL = "http://" + c.invSrv.Listener.Addr().String()
	}

	for _, spec := range specs {
		n, err := c.startNode(ctx, spec.Name, invURL)
		if err != nil {
			return c, fmt.Errorf("store %s: %w", spec.Name, err)
		}
		c.nodes = append(c.nodes, n)
		c.byName[n.name] = n
	}

	if federated {
		stores := make([]federation.Store, len(c.nodes))
		for i, n := range c.nodes {
			stores[i] = federation.Store{Name: n.name, URL: n.srv.URL}
		}
		c.inventory, err = federation.New(stores, federation.WithLogger(logger))
		if err != nil {
			return c, err
		}
		c.invSrv.Config.Handler = httpapi.NewInventoryRouter(c.inventory, httpapi.WithLogger(logger))
		c.invSrv.Start()
	}

	for i, spec := range specs {
		for _, path := range spec.Specs {
			if _, err := c.register(ctx, c.nodes[i], path); err != nil {
				return c, err
			}
		}
	}
	if err := c.sync(ctx); err != nil {
		return c, err
	}
	return c, c.settle(ctx)
}

func (c *cluster) startNode(ctx context.Context, name, invURL string) (*node, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	logger := c.logger.With("store", name)

	opts := []dataservice.Option{dataservice.WithName(name), dataservice.WithLogger(logger)}
	if invURL != "" {
		opts = append(opts, dataservice.WithRemote(federation.NewInventoryClient(invURL, nil)))
	}
	svc, err := dataservice.New(ctx, st, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	engine := cmtindex.New(svc.Journal(), svc.Store(), svc.Graph(),
		cmtindex.WithLogger(logger),
		cmtindex.WithBackoff(quickBackoff),
	)
	if err := engine.Init(ctx); err != nil {
		svc.Close()
		st.Close()
		return nil, err
	}

	n := &node{name: name, store: st, svc: svc, engine: engine}
	if invURL != "" {
		n.srv = httptest.NewServer(httpapi.NewDataRouter(svc, httpapi.WithLogger(logger)))
	}
	return n, nil
}

// register registers every document of the CUE spec at path with n.
func (c *cluster) register(ctx context.Context, n *node, path string) ([]string, error) {
	docs, err := loadSpec(path)
	if err != nil {
		return nil, err
	}
	registered := make([]string, 0, len(docs))
	for _, doc := range docs {
		if _, err := n.svc.RegisterSchema(ctx, doc); err != nil {
			return registered, fmt.Errorf("register %s@%s: %w", doc.ID, doc.Version, err)
		}
		registered = append(registered, doc.ID+"@"+doc.Version)
	}
	return registered, nil
}

// sync re-polls every store. Engines pick up subscriptions declared in
// other stores on their next Drain.
func (c *cluster) sync(ctx context.Context) error {
	if c.inventory != nil {
		res, err := c.inventory.SyncSchemas(ctx)
		if err != nil {
			return err
		}
		if failed := res.Failed(); len(failed) > 0 {
			return fmt.Errorf("stores unreachable during sync: %v", failed)
		}
	}
	return nil
}

// settle drains every engine until two consecutive rounds ack nothing. A
// Drain may refresh subscriptions and backfill into another store, which
// only the following round sees.
func (c *cluster) settle(ctx context.Context) error {
	quiet := 0
	for range maxSettleRounds {
		acked := 0
		for _, n := range c.nodes {
			k, err := n.engine.Drain(ctx)
			if err != nil {
				c.logger.Debug("entries left pending", "store", n.name, "error", err)
			}
			acked += k
		}
		if acked > 0 {
			quiet = 0
			continue
		}
		if quiet++; quiet == 2 {
			return nil
		}
	}
	return fmt.Errorf("cluster did not settle after %d rounds", maxSettleRounds)
}

// host returns the store named name, or the first store hosting typ, or
// the first store.
func (c *cluster) host(name, typ string) (*node, error) {
	if name != "" {
		n, ok := c.byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown store %q", name)
		}
		return n, nil
	}
	for _, n := range c.nodes {
		if n.svc.Graph().IsLocal(typ) {
			return n, nil
		}
	}
	return c.nodes[0], nil
}

// schemaTypes lists the types merged by the inventory.
func (c *cluster) schemaTypes() []string {
	var types []string
	for _, sch := range c.inventory.Schemas() {
		types = append(types, sch.ID)
	}
	return types
}

func (c *cluster) close() {
	if c.invSrv != nil {
		c.invSrv.Close()
	}
	for _, n := range c.nodes {
		if n.srv != nil {
			n.srv.Close()
		}
		n.svc.Close()
		n.store.Close()
	}
}
