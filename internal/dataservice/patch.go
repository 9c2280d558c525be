package dataservice

import (
	"context"
	"errors"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
	"github.com/roach88/unitao/internal/traverse"
)

// Patch changes one location of (typ, id).
//
// A bare field leaf replaces the field, or set-inserts a single item when
// the field is an array. A nil value removes an optional field. A
// field[key] leaf sets the keyed item, or removes it when value is nil.
// References are checked only under path.
//
// The journal holds one entry per change to the record's data. A patch
// that leaves the data unchanged, such as set-inserting an item already
// present, commits nothing and returns the current record without a
// journal entry. Repeated index inserts therefore leave no trace.
func (s *Service) Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error) {
	if err := checkWritable(typ); err != nil {
		return nil, err
	}
	if err := queryir.ValidateMutationPath(path); err != nil {
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
	sch, err := s.catalog.Get(typ, before.Version)
	if err != nil {
		return nil, err
	}

	data := ir.CloneObject(before.Data)
	if err := applyPatch(sch, data, path, ir.CloneValue(value)); err != nil {
		return nil, err
	}
	if ir.EqualValues(data, before.Data) {
		return before, nil
	}

	next := &ir.Record{ID: id, Type: typ, Version: before.Version, Data: data}
	refs, err := s.prepare(sch, next)
	if err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, refsUnder(refs, path)); err != nil {
		return nil, err
	}
	if _, err := s.commit(ctx, store.Mutation{Op: ir.OpPatch, Before: before, After: next}); err != nil {
		return nil, err
	}
	return next, nil
}

// applyPatch mutates data in place. The result is validated by the caller.
func applyPatch(sch *schema.Schema, data map[string]any, path queryir.Path, value any) error {
	parent, last, _ := path.Parent()
	container, prop, err := traverse.Lookup(sch, data, parent)
	if err != nil {
		return err
	}
	objProp, ok := prop.(*schema.ObjectProp)
	if !ok {
		return ir.PathNotFound(parent.String(), "cannot patch inside %s value", prop.Kind())
	}
	obj, _ := container.(map[string]any)
	field, ok := objProp.Def.Field(last.Field)
	if !ok {
		return ir.PathNotFound(path.String(), "no field %q", last.Field)
	}

	if last.Selector == queryir.SelectNone {
		return setField(obj, field, path, value)
	}
	return setItem(obj, field, path, last.Key, value)
}

func setField(obj map[string]any, field schema.Property, path queryir.Path, value any) error {
	name := field.Info().Name
	if value == nil {
		if field.Info().Required {
			return ir.ValidationFailed(path.String(), "required field %q cannot be removed", name)
		}
		delete(obj, name)
		return nil
	}
	if arr, ok := field.(*schema.ArrayProp); ok {
		if _, whole := value.([]any); !whole {
			return setInsert(obj, arr, path, value)
		}
	}
	obj[name] = value
	return nil
}

// setInsert adds one item to an array field. An equal item is left alone;
// a different item with the same key is replaced where it stands.
func setInsert(obj map[string]any, arr *schema.ArrayProp, path queryir.Path, item any) error {
	key, err := schema.ItemKey(arr.Items, item)
	if err != nil {
		return withPath(err, path.String())
	}
	name := arr.Info().Name
	items, _ := obj[name].([]any)
	for i, cur := range items {
		if k, err := schema.ItemKey(arr.Items, cur); err == nil && k == key {
			items[i] = item
			return nil
		}
	}
	obj[name] = append(items, item)
	return nil
}

func setItem(obj map[string]any, field schema.Property, path queryir.Path, key string, value any) error {
	name := field.Info().Name
	switch coll := field.(type) {
	case *schema.ArrayProp:
		items, _ := obj[name].([]any)
		idx := -1
		for i, cur := range items {
			if k, err := schema.ItemKey(coll.Items, cur); err == nil && k == key {
				idx = i
				break
			}
		}
		if value == nil {
			if idx < 0 {
				return ir.PathNotFound(path.String(), "no item %q in %q", key, name)
			}
			obj[name] = append(items[:idx:idx], items[idx+1:]...)
			return nil
		}
		got, err := schema.ItemKey(coll.Items, value)
		if err != nil {
			return withPath(err, path.String())
		}
		if got != key {
			return ir.ValidationFailed(path.String(), "item key %q does not match selector %q", got, key)
		}
		if idx < 0 {
			obj[name] = append(items, value)
		} else {
			items[idx] = value
		}
		return nil

	case *schema.MapProp:
		m, _ := obj[name].(map[string]any)
		if value == nil {
			if _, ok := m[key]; !ok {
				return ir.PathNotFound(path.String(), "no item %q in %q", key, name)
			}
			delete(m, key)
			return nil
		}
		if m == nil {
			m = map[string]any{}
			obj[name] = m
		}
		m[key] = value
		return nil

	default:
		return ir.PathNotFound(path.String(), "field %q is not a collection", name)
	}
}

func withPath(err error, path string) error {
	var e *ir.Error
	if errors.As(err, &e) && e.Path == "" {
		return e.WithPath(path)
	}
	return err
}
