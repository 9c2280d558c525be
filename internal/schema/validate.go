package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
)

// RefUse is one reference value found while validating data.
type RefUse struct {
	Path   queryir.Path
	Target string
	ID     string
}

// Validate checks record data against the schema by structural recursion
// and returns every reference it found. Reference existence is not checked
// here; callers resolve the returned uses.
func (s *Schema) Validate(data map[string]any) ([]RefUse, error) {
	v := &validator{}
	if data == nil {
		return nil, ir.ValidationFailed("", "data is required")
	}
	if err := v.object(s.Root, data, nil); err != nil {
		return nil, err
	}
	return v.refs, nil
}

// RenderKey renders the record id from data.
func (s *Schema) RenderKey(data map[string]any) (string, error) {
	return s.Key.Render(data)
}

type validator struct {
	refs []RefUse
}

func (v *validator) object(def *Definition, data map[string]any, path queryir.Path) error {
	for key := range data {
		if _, ok := def.Field(key); !ok {
			return ir.ValidationFailed(path.Append(queryir.Field(key)).String(), "unknown field %q", key)
		}
	}
	for _, field := range def.Fields {
		name := field.Info().Name
		fieldPath := path.Append(queryir.Field(name))
		val, present := data[name]
		if !present || val == nil {
			if field.Info().Required {
				return ir.ValidationFailed(fieldPath.String(), "required field %q is missing", name)
			}
			continue
		}
		if err := v.value(field, val, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) value(prop Property, val any, path queryir.Path) error {
	switch p := prop.(type) {
	case *StringProp:
		if _, ok := val.(string); !ok {
			return typeMismatch(path, "string", val)
		}
	case *RefProp:
		id, ok := val.(string)
		if !ok {
			return typeMismatch(path, "string reference", val)
		}
		v.refs = append(v.refs, RefUse{Path: path, Target: p.Target, ID: id})
	case *NumberProp:
		if !isNumber(val) {
			return typeMismatch(path, "number", val)
		}
	case *BoolProp:
		if _, ok := val.(bool); !ok {
			return typeMismatch(path, "boolean", val)
		}
	case *ObjectProp:
		obj, ok := val.(map[string]any)
		if !ok {
			return typeMismatch(path, "object", val)
		}
		return v.object(p.Def, obj, path)
	case *ArrayProp:
		arr, ok := val.([]any)
		if !ok {
			return typeMismatch(path, "array", val)
		}
		parent, last, _ := path.Parent()
		seen := map[string]bool{}
		for i, item := range arr {
			if item == nil {
				return ir.ValidationFailed(fmt.Sprintf("%s[#%d]", path, i), "array item is null")
			}
			key, err := ItemKey(p.Items, item)
			if err != nil {
				var e *ir.Error
				if errors.As(err, &e) {
					return e.WithPath(fmt.Sprintf("%s[#%d]", path, i))
				}
				return err
			}
			itemPath := parent.Append(queryir.Keyed(last.Field, key))
			if seen[key] {
				return ir.ValidationFailed(itemPath.String(), "duplicate item key %q", key)
			}
			seen[key] = true
			if err := v.value(p.Items, item, itemPath); err != nil {
				return err
			}
		}
	case *MapProp:
		m, ok := val.(map[string]any)
		if !ok {
			return typeMismatch(path, "map", val)
		}
		parent, last, _ := path.Parent()
		for _, key := range ir.SortedKeys(m) {
			itemPath := parent.Append(queryir.Keyed(last.Field, key))
			if m[key] == nil {
				return ir.ValidationFailed(itemPath.String(), "map item is null")
			}
			if err := v.value(p.Items, m[key], itemPath); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unhandled property kind %T", prop)
	}
	return nil
}

// ItemKey returns the identity of a collection item: the rendered
// keyTemplate for object items, the string form for scalar items.
func ItemKey(items Property, item any) (string, error) {
	switch p := items.(type) {
	case *ObjectProp:
		obj, ok := item.(map[string]any)
		if !ok {
			return "", ir.ValidationFailed("", "expected object item, got %s", jsonKind(item))
		}
		if p.Def.Key == nil {
			return "", ir.ValidationFailed("", "definition %q has no keyTemplate", p.Def.Name)
		}
		return p.Def.Key.Render(obj)
	default:
		return ScalarKey(item)
	}
}

// ScalarKey renders a scalar as an item key.
func ScalarKey(item any) (string, error) {
	switch val := item.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64, float32, int, int64, json.Number:
		b, err := ir.MarshalCanonical(val)
		if err != nil {
			return "", ir.ValidationFailed("", "%v", err)
		}
		return string(b), nil
	default:
		return "", ir.ValidationFailed("", "expected scalar item, got %s", jsonKind(item))
	}
}

func isNumber(val any) bool {
	switch val.(type) {
	case float64, float32, int, int64, json.Number:
		return true
	default:
		return false
	}
}

func typeMismatch(path queryir.Path, want string, got any) error {
	return ir.ValidationFailed(path.String(), "expected %s, got %s", want, jsonKind(got))
}

func jsonKind(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		if isNumber(val) {
			return "number"
		}
		return fmt.Sprintf("%T", val)
	}
}
