package traverse

import (
	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// Lookup resolves a wildcard-free path inside one record without following
// references. It returns the value and its property. The empty path returns
// the record data with an ObjectProp over the root definition.
func Lookup(sch *schema.Schema, data map[string]any, path queryir.Path) (any, schema.Property, error) {
	var (
		prop schema.Property = rootProp(sch)
		val  any             = data
	)
	for i, seg := range path {
		if seg.Selector == queryir.SelectAll {
			return nil, nil, ir.Errorf(ir.CodeBadRequest, "lookup path cannot contain a wildcard").WithPath(path.Prefix(i + 1))
		}
		var err error
		prop, val, err = descend(prop, val, seg, path.Prefix(i+1))
		if err != nil {
			return nil, nil, err
		}
	}
	return val, prop, nil
}

func rootProp(sch *schema.Schema) *schema.ObjectProp {
	return &schema.ObjectProp{Meta: schema.Meta{Name: sch.ID, Required: true}, Def: sch.Root}
}

// descend applies one non-wildcard segment to an object value.
func descend(prop schema.Property, val any, seg queryir.Segment, at string) (schema.Property, any, error) {
	obj, ok := prop.(*schema.ObjectProp)
	if !ok {
		return nil, nil, ir.PathNotFound(at, "cannot descend into %s value", prop.Kind())
	}
	data, _ := val.(map[string]any)
	field, ok := obj.Def.Field(seg.Field)
	if !ok {
		return nil, nil, ir.PathNotFound(at, "no field %q", seg.Field)
	}
	fv, present := data[seg.Field]
	if !present || fv == nil {
		return nil, nil, ir.PathNotFound(at, "field %q is not set", seg.Field)
	}
	if seg.Selector == queryir.SelectNone {
		return field, fv, nil
	}
	items := schema.Items(field)
	if items == nil {
		return nil, nil, ir.PathNotFound(at, "field %q is not a collection", seg.Field)
	}
	item, ok := FindItem(field, fv, seg.Key)
	if !ok {
		return nil, nil, ir.PathNotFound(at, "no item %q in %q", seg.Key, seg.Field)
	}
	return items, item, nil
}

// FindItem returns the element of a collection value whose item key is key.
func FindItem(coll schema.Property, val any, key string) (any, bool) {
	switch p := coll.(type) {
	case *schema.ArrayProp:
		arr, _ := val.([]any)
		for _, item := range arr {
			if k, err := schema.ItemKey(p.Items, item); err == nil && k == key {
				return item, true
			}
		}
	case *schema.MapProp:
		m, _ := val.(map[string]any)
		item, ok := m[key]
		return item, ok && item != nil
	}
	return nil, false
}

// Element is one keyed member of a collection.
type Element struct {
	Key   string
	Value any
}

// Elements lists a collection's members: array order for arrays, sorted
// keys for maps. Array items whose key cannot be rendered are skipped.
func Elements(coll schema.Property, val any) []Element {
	var out []Element
	switch p := coll.(type) {
	case *schema.ArrayProp:
		arr, _ := val.([]any)
		for _, item := range arr {
			k, err := schema.ItemKey(p.Items, item)
			if err != nil {
				continue
			}
			out = append(out, Element{Key: k, Value: item})
		}
	case *schema.MapProp:
		m, _ := val.(map[string]any)
		for _, k := range ir.SortedKeys(m) {
			out = append(out, Element{Key: k, Value: m[k]})
		}
	}
	return out
}
