package dataservice

import (
	"context"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
)

// Create validates rec against its schema (latest version when rec.Version
// is empty), checks its references, and stores it with a create entry.
// An empty rec.ID is assigned from the keyTemplate.
func (s *Service) Create(ctx context.Context, rec *ir.Record) (*ir.Record, error) {
	if rec == nil {
		return nil, ir.Errorf(ir.CodeBadRequest, "record is required")
	}
	if err := checkWritable(rec.Type); err != nil {
		return nil, err
	}
	sch, err := s.catalog.Get(rec.Type, rec.Version)
	if err != nil {
		return nil, err
	}

	next := rec.Clone()
	next.Version = sch.Version
	refs, err := s.prepare(sch, next)
	if err != nil {
		return nil, err
	}

	release := s.locks.lock(next.Key())
	defer release()

	if err := s.checkRefs(ctx, refs); err != nil {
		return nil, err
	}
	if _, err := s.commit(ctx, store.Mutation{Op: ir.OpCreate, After: next}); err != nil {
		return nil, err
	}
	return next, nil
}

// prepare validates data, assigns or verifies the id, and returns the
// references found.
func (s *Service) prepare(sch *schema.Schema, rec *ir.Record) ([]schema.RefUse, error) {
	refs, err := sch.Validate(rec.Data)
	if err != nil {
		return nil, err
	}
	id, err := sch.RenderKey(rec.Data)
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = id
	} else if rec.ID != id {
		return nil, ir.ValidationFailed("id", "id %q does not match keyTemplate %s rendered as %q", rec.ID, sch.Key, id)
	}
	return refs, nil
}

// Read returns one record. The internal types "schema" and "cmtIdx" are
// readable here too.
func (s *Service) Read(ctx context.Context, typ, id string) (*ir.Record, error) {
	switch typ {
	case ir.SchemaType:
		return s.store.GetRecord(ctx, typ, id)
	case ir.CmtIdxType:
		return s.cmtIdxRecord(ctx, id)
	}
	if !s.isLocal(typ) {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return s.store.GetRecord(ctx, typ, id)
}

// List returns the ids of typ in binary order.
func (s *Service) List(ctx context.Context, typ string) ([]string, error) {
	switch typ {
	case ir.SchemaType:
		ids := []string{}
		for _, sch := range s.catalog.List() {
			ids = append(ids, sch.ID)
		}
		return ids, nil
	case ir.CmtIdxType:
		return s.store.IndexTargetTypes(ctx)
	}
	if !s.isLocal(typ) {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return s.store.ListRecordIDs(ctx, typ)
}

// Replace swaps the whole data of (typ, id). version selects the schema
// version to validate against and may move the record to any registered
// version; empty keeps the record's current version.
func (s *Service) Replace(ctx context.Context, typ, id, version string, data map[string]any) (*ir.Record, error) {
	if err := checkWritable(typ); err != nil {
		return nil, err
	}
	if !s.isLocal(typ) {
		return nil, ir.NotFound("type %s not found", typ)
	}

	release := s.locks.lock(ir.Key{Type: typ, ID: id})
	defer release()

	before, err := s.store.GetRecord(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	if version == "" {
		version = before.Version
	}
	sch, err := s.catalog.Get(typ, version)
	if err != nil {
		return nil, err
	}

	next := &ir.Record{ID: id, Type: typ, Version: sch.Version, Data: ir.CloneObject(data)}
	refs, err := s.prepare(sch, next)
	if err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, refs); err != nil {
		return nil, err
	}
	if _, err := s.commit(ctx, store.Mutation{Op: ir.OpUpdate, Before: before, After: next}); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes (typ, id) and journals its last payload. References to it
// from other records are left as they are.
func (s *Service) Delete(ctx context.Context, typ, id string) error {
	if err := checkWritable(typ); err != nil {
		return err
	}
	if !s.isLocal(typ) {
		return ir.NotFound("type %s not found", typ)
	}

	release := s.locks.lock(ir.Key{Type: typ, ID: id})
	defer release()

	before, err := s.store.GetRecord(ctx, typ, id)
	if err != nil {
		return err
	}
	_, err = s.commit(ctx, store.Mutation{Op: ir.OpDelete, Before: before})
	return err
}

// checkWritable rejects direct writes to internal types. Schemas are
// written through RegisterSchema.
func checkWritable(typ string) error {
	if typ == "" {
		return ir.ValidationFailed("type", "type is required")
	}
	if ir.InternalTypes[typ] {
		return ir.Errorf(ir.CodeBadRequest, "type %q cannot be written directly", typ)
	}
	return nil
}
