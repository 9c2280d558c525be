package schema

import (
	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
)

// CheckUpgrade reports whether next may replace prev as the latest version
// of a type. The version must be strictly greater and every record valid
// under prev must stay valid under next:
//   - no field is removed
//   - no field becomes required that was optional or absent
//   - no declared type or reference target changes
//   - no keyTemplate changes
//
// Adding optional fields and indexTemplates is allowed.
func CheckUpgrade(prev, next *Schema) error {
	if prev.ID != next.ID {
		return ir.Errorf(ir.CodeSchemaIncompatible, "schema id %q cannot replace %q", next.ID, prev.ID)
	}
	if ir.CompareVersions(next.Version, prev.Version) <= 0 {
		return ir.Errorf(ir.CodeSchemaIncompatible, "version %s of %s is not greater than %s", next.Version, next.ID, prev.Version)
	}
	c := &compat{seen: map[[2]*Definition]bool{}}
	return c.definition(prev.Root, next.Root, nil)
}

type compat struct {
	seen map[[2]*Definition]bool
}

func (c *compat) definition(prev, next *Definition, path queryir.Path) error {
	pair := [2]*Definition{prev, next}
	if c.seen[pair] {
		return nil
	}
	c.seen[pair] = true

	if keyText(prev.Key) != keyText(next.Key) {
		return incompatible(path, "keyTemplate changed from %q to %q", keyText(prev.Key), keyText(next.Key))
	}
	for _, pf := range prev.Fields {
		name := pf.Info().Name
		fieldPath := path.Append(queryir.Field(name))
		nf, ok := next.Field(name)
		if !ok {
			return incompatible(fieldPath, "field %q was removed", name)
		}
		if nf.Info().Required && !pf.Info().Required {
			return incompatible(fieldPath, "optional field %q became required", name)
		}
		if err := c.property(pf, nf, fieldPath); err != nil {
			return err
		}
	}
	for _, nf := range next.Fields {
		name := nf.Info().Name
		if _, ok := prev.Field(name); !ok && nf.Info().Required {
			return incompatible(path.Append(queryir.Field(name)), "new field %q must be optional", name)
		}
	}
	return nil
}

func (c *compat) property(prev, next Property, path queryir.Path) error {
	if prev.Kind() != next.Kind() {
		return incompatible(path, "type changed from %s to %s", prev.Kind(), next.Kind())
	}
	switch p := prev.(type) {
	case *RefProp:
		n := next.(*RefProp)
		if p.Target != n.Target {
			return incompatible(path, "reference target changed from %s to %s", p.Target, n.Target)
		}
	case *ArrayProp, *MapProp:
		return c.property(Items(prev), Items(next), path)
	case *ObjectProp:
		return c.definition(p.Def, next.(*ObjectProp).Def, path)
	}
	return nil
}

func keyText(t *Template) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func incompatible(path queryir.Path, format string, args ...any) error {
	err := ir.Errorf(ir.CodeSchemaIncompatible, format, args...)
	err.Path = path.String()
	return err
}
