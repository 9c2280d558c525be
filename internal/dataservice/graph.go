package dataservice

import (
	"context"
	"fmt"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// Graph is the record graph seen from this service: local types answered
// by the store, every other type through the Remote. It is the Source for
// path traversal and the view the CmtIndex engine works against.
type Graph struct {
	s *Service
}

// Graph returns the service's graph view.
func (s *Service) Graph() *Graph {
	return &Graph{s: s}
}

// IsLocal reports whether typ is stored by this service.
func (g *Graph) IsLocal(typ string) bool {
	return g.s.isLocal(typ)
}

// Schema returns the schema of typ at version (latest when empty).
func (g *Graph) Schema(ctx context.Context, typ, version string) (*schema.Schema, error) {
	if g.s.isLocal(typ) {
		return g.s.catalog.Get(typ, version)
	}
	if g.s.remote == nil {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return g.s.remote.Schema(ctx, typ, version)
}

// Record fetches (typ, id).
func (g *Graph) Record(ctx context.Context, typ, id string) (*ir.Record, error) {
	if g.s.isLocal(typ) {
		return g.s.store.GetRecord(ctx, typ, id)
	}
	if g.s.remote == nil {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return g.s.remote.Record(ctx, typ, id)
}

// List returns the ids of typ.
func (g *Graph) List(ctx context.Context, typ string) ([]string, error) {
	if g.s.isLocal(typ) {
		return g.s.store.ListRecordIDs(ctx, typ)
	}
	if g.s.remote == nil {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return g.s.remote.List(ctx, typ)
}

// Patch applies a patch to (typ, id) wherever the record lives.
func (g *Graph) Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error) {
	if g.s.isLocal(typ) {
		return g.s.Patch(ctx, typ, id, path, value)
	}
	if g.s.remote == nil {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return g.s.remote.Patch(ctx, typ, id, path, value)
}

// Subscriptions derives index subscriptions from local schemas and from
// the remote catalog. Local schemas win for types known on both sides.
// When the remote cannot be reached the local subscriptions are returned
// together with the error.
func (g *Graph) Subscriptions(ctx context.Context) ([]schema.Subscription, error) {
	subs := g.s.catalog.Subscriptions()
	if g.s.remote == nil {
		return subs, nil
	}
	remote, err := g.s.remote.Schemas(ctx)
	if err != nil {
		return subs, fmt.Errorf("remote schemas: %w", err)
	}
	for _, sch := range remote {
		if g.s.isLocal(sch.ID) {
			continue
		}
		subs = append(subs, sch.Subscriptions()...)
	}
	return subs, nil
}
