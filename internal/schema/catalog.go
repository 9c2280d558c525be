package schema

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/unitao/internal/ir"
)

// Sink persists an accepted registration. It is called under the catalog's
// write lock; prev is nil for a first registration. A Sink error aborts the
// registration.
type Sink interface {
	CommitSchema(ctx context.Context, next, prev *Schema) error
}

// Catalog holds every registered version of every data type.
//
// Thread-safety: all methods are safe for concurrent use. Registrations are
// serialized.
type Catalog struct {
	mu    sync.RWMutex
	types map[string][]*Schema // ascending by version
	sink  Sink
}

// NewCatalog creates an empty catalog. sink may be nil for a purely
// in-memory catalog.
func NewCatalog(sink Sink) *Catalog {
	return &Catalog{types: map[string][]*Schema{}, sink: sink}
}

// Load installs previously persisted schemas without compatibility checks
// or sink calls. Used at startup.
func (c *Catalog) Load(schemas ...*Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range schemas {
		c.install(s)
	}
}

// RegisterOrUpgrade compiles doc and installs it as the latest version of
// its type. A type seen for the first time is accepted at whatever version
// it declares; later versions must pass CheckUpgrade.
func (c *Catalog) RegisterOrUpgrade(ctx context.Context, doc *Document) (*Schema, error) {
	next, err := Compile(doc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var prev *Schema
	if versions := c.types[next.ID]; len(versions) > 0 {
		prev = versions[len(versions)-1]
		if err := CheckUpgrade(prev, next); err != nil {
			return nil, err
		}
	}
	if c.sink != nil {
		if err := c.sink.CommitSchema(ctx, next, prev); err != nil {
			return nil, err
		}
	}
	c.install(next)
	return next, nil
}

func (c *Catalog) install(s *Schema) {
	versions := c.types[s.ID]
	for i, existing := range versions {
		if existing.Version == s.Version {
			versions[i] = s
			return
		}
	}
	versions = append(versions, s)
	slices.SortFunc(versions, func(a, b *Schema) int {
		return ir.CompareVersions(a.Version, b.Version)
	})
	c.types[s.ID] = versions
}

// Get returns the schema of typ at version; an empty version means latest.
func (c *Catalog) Get(typ, version string) (*Schema, error) {
	if version == "" {
		return c.Latest(typ)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.types[typ] {
		if s.Version == version {
			return s, nil
		}
	}
	if len(c.types[typ]) == 0 {
		return nil, ir.NotFound("schema %s not found", typ)
	}
	return nil, ir.NotFound("schema %s version %s not found", typ, version)
}

// Latest returns the newest registered version of typ.
func (c *Catalog) Latest(typ string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.types[typ]
	if len(versions) == 0 {
		return nil, ir.NotFound("schema %s not found", typ)
	}
	return versions[len(versions)-1], nil
}

// Has reports whether typ is registered.
func (c *Catalog) Has(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types[typ]) > 0
}

// Versions returns every registered version of typ in ascending order.
func (c *Catalog) Versions(typ string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.types[typ]))
	for i, s := range c.types[typ] {
		out[i] = s.Version
	}
	return out
}

// List returns the latest schema of every type, sorted by type.
func (c *Catalog) List() []*Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Schema, 0, len(c.types))
	for _, typ := range ir.SortedKeys(c.types) {
		versions := c.types[typ]
		out = append(out, versions[len(versions)-1])
	}
	return out
}

// Subscriptions returns the indexTemplates declared by the latest version
// of every type.
func (c *Catalog) Subscriptions() []Subscription {
	var subs []Subscription
	for _, s := range c.List() {
		subs = append(subs, s.Subscriptions()...)
	}
	return subs
}
