package dataservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
)

// RegisterSchema registers doc as a new type or an upgrade of an existing
// one and returns the journaled schema record.
//
// Re-registering a known version with an identical document is a no-op,
// so pushing the same schema set twice succeeds.
func (s *Service) RegisterSchema(ctx context.Context, doc *schema.Document) (*ir.Record, error) {
	if doc == nil {
		return nil, ir.ValidationFailed("data", "schema document is required")
	}
	if known, err := s.catalog.Get(doc.ID, doc.Version); err == nil && doc.Version != "" {
		same, err := sameDocument(known.Doc, doc)
		if err != nil {
			return nil, err
		}
		if same {
			return s.store.GetRecord(ctx, ir.SchemaType, doc.ID)
		}
	}

	sch, err := s.catalog.RegisterOrUpgrade(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.metrics.SetSchemaTypes(len(s.catalog.List()))
	s.logger.Info("schema registered", "type", sch.ID, "version", sch.Version)
	return s.store.GetRecord(ctx, ir.SchemaType, sch.ID)
}

// CommitSchema persists an accepted registration: the schema row, the
// "schema" record and its journal entry, in one transaction. It implements
// schema.Sink and runs under the catalog's write lock.
func (s *Service) CommitSchema(ctx context.Context, next, prev *schema.Schema) error {
	raw, err := json.Marshal(next.Doc)
	if err != nil {
		return fmt.Errorf("commit schema %s: %w", next, err)
	}
	data, err := next.Doc.ToMap()
	if err != nil {
		return fmt.Errorf("commit schema %s: %w", next, err)
	}
	digest, err := ir.SchemaDigest(data)
	if err != nil {
		return fmt.Errorf("commit schema %s: %w", next, err)
	}

	m := store.Mutation{
		Op:     ir.OpCreate,
		After:  &ir.Record{ID: next.ID, Type: ir.SchemaType, Version: next.Version, Data: data},
		Schema: &store.SchemaRow{Type: next.ID, Version: next.Version, Document: raw, Digest: digest},
	}
	if prev != nil {
		before, err := s.store.GetRecord(ctx, ir.SchemaType, next.ID)
		if err != nil {
			return fmt.Errorf("commit schema %s: %w", next, err)
		}
		m.Op = ir.OpUpdate
		m.Before = before
	}

	release := s.locks.lock(ir.Key{Type: ir.SchemaType, ID: next.ID})
	defer release()
	_, err = s.commit(ctx, m)
	return err
}

// Schema returns the local schema of typ at version (latest when empty).
func (s *Service) Schema(typ, version string) (*schema.Schema, error) {
	return s.catalog.Get(typ, version)
}

// Schemas returns the latest version of every local type.
func (s *Service) Schemas() []*schema.Schema {
	return s.catalog.List()
}

func sameDocument(a, b *schema.Document) (bool, error) {
	am, err := a.ToMap()
	if err != nil {
		return false, err
	}
	bm, err := b.ToMap()
	if err != nil {
		return false, err
	}
	return ir.EqualValues(am, bm), nil
}
