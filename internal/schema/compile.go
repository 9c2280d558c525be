package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
)

// Compile validates a document and builds its Schema.
//
// Compile-time rules:
//   - id is a non-empty type name that is not an internal type
//   - version parses as major.minor.patch
//   - keyTemplate is required at the root; every placeholder names a
//     required string or reference field of the same shape
//   - definitions used as array items declare a keyTemplate
//   - ref names an existing definition
//   - indexTemplate appears only on reference items of a collection, names
//     this schema's id first, and retraces the declaring attribute path
func Compile(doc *Document) (*Schema, error) {
	if doc == nil {
		return nil, ir.ValidationFailed("", "schema document is empty")
	}
	if doc.ID == "" || strings.ContainsAny(doc.ID, "/[]{}? ") {
		return nil, ir.ValidationFailed("id", "invalid schema id %q", doc.ID)
	}
	if ir.InternalTypes[doc.ID] {
		return nil, ir.ValidationFailed("id", "%q is a reserved type", doc.ID)
	}
	if _, err := ir.ParseSemVer(doc.Version); err != nil {
		return nil, ir.ValidationFailed("version", "%v", err)
	}

	c := &compiler{doc: doc, defs: map[string]*Definition{}}
	for name, dd := range doc.Definitions {
		if dd == nil {
			return nil, ir.ValidationFailed("definitions."+name, "definition is empty")
		}
		c.defs[name] = &Definition{Name: name, Description: dd.Description, byName: map[string]Property{}}
	}
	for name, dd := range doc.Definitions {
		if err := c.fillDefinition(c.defs[name], dd.Properties, dd.KeyTemplate, "definitions."+name); err != nil {
			return nil, err
		}
	}

	root := &Definition{Name: doc.ID, Description: doc.Description, byName: map[string]Property{}}
	if doc.KeyTemplate == "" {
		return nil, ir.ValidationFailed("keyTemplate", "keyTemplate is required")
	}
	if err := c.fillDefinition(root, doc.Properties, doc.KeyTemplate, "properties"); err != nil {
		return nil, err
	}

	s := &Schema{
		ID:          doc.ID,
		Version:     doc.Version,
		Name:        doc.Name,
		Description: doc.Description,
		Key:         root.Key,
		Root:        root,
		Definitions: c.defs,
		Doc:         doc,
	}
	if err := checkIndexTemplates(s); err != nil {
		return nil, err
	}
	return s, nil
}

// MustCompile is like Compile but panics on error.
// Use only in tests or for fixtures known to be valid.
func MustCompile(doc *Document) *Schema {
	s, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// CompileJSON parses and compiles a JSON schema document.
func CompileJSON(data []byte) (*Schema, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, ir.ValidationFailed("", "%v", err)
	}
	return Compile(doc)
}

type compiler struct {
	doc  *Document
	defs map[string]*Definition
}

func (c *compiler) fillDefinition(def *Definition, props Properties, keyTemplate, path string) error {
	for _, np := range props {
		if np.Name == "" || strings.ContainsAny(np.Name, "/[]{}*%") {
			return ir.ValidationFailed(path, "invalid property name %q", np.Name)
		}
		prop, err := c.compileProperty(np.Spec, np.Name, path+"."+np.Name, false)
		if err != nil {
			return err
		}
		def.Fields = append(def.Fields, prop)
		def.byName[np.Name] = prop
	}

	if keyTemplate == "" {
		return nil
	}
	key, err := ParseTemplate(keyTemplate)
	if err != nil {
		return ir.ValidationFailed(path, "%v", err)
	}
	if len(key.Vars()) == 0 {
		return ir.ValidationFailed(path, "keyTemplate %q has no placeholder", keyTemplate)
	}
	for _, v := range key.Vars() {
		field, ok := def.byName[v]
		if !ok {
			return ir.ValidationFailed(path, "keyTemplate %q: field %q is not declared", keyTemplate, v)
		}
		k := field.Kind()
		if (k != KindString && k != KindReference) || !field.Info().Required {
			return ir.ValidationFailed(path+"."+v, "keyTemplate field %q must be a required string", v)
		}
	}
	def.Key = key
	return nil
}

func (c *compiler) compileProperty(pd *PropertyDoc, name, path string, asItem bool) (Property, error) {
	if pd == nil {
		return nil, ir.ValidationFailed(path, "property is empty")
	}
	meta := Meta{Name: name, Required: pd.IsRequired(), Description: pd.Description}

	if pd.Type != "string" && (pd.ContentMediaType != "" || pd.IndexTemplate != "") {
		return nil, ir.ValidationFailed(path, "contentMediaType and indexTemplate apply only to strings")
	}
	if pd.Items != nil && pd.Type != "array" && pd.Type != "map" {
		return nil, ir.ValidationFailed(path, "items applies only to array and map")
	}
	if pd.Ref != "" && pd.Type != "object" {
		return nil, ir.ValidationFailed(path, "ref applies only to object")
	}

	switch pd.Type {
	case "string":
		if pd.ContentMediaType == "" {
			if pd.IndexTemplate != "" {
				return nil, ir.ValidationFailed(path, "indexTemplate requires contentMediaType")
			}
			return &StringProp{Meta: meta}, nil
		}
		target := TypeOf(pd.ContentMediaType)
		if target == "" {
			return nil, ir.ValidationFailed(path, "contentMediaType %q must be %s<DataType>", pd.ContentMediaType, MediaTypePrefix)
		}
		ref := &RefProp{Meta: meta, Target: target}
		if pd.IndexTemplate != "" {
			if !asItem {
				return nil, ir.ValidationFailed(path, "indexTemplate applies only to collection items")
			}
			it, err := ParseIndexTemplate(pd.IndexTemplate)
			if err != nil {
				return nil, ir.ValidationFailed(path, "%v", err)
			}
			ref.Index = it
		}
		return ref, nil
	case "number":
		return &NumberProp{Meta: meta}, nil
	case "boolean":
		return &BoolProp{Meta: meta}, nil
	case "object":
		if pd.Ref == "" {
			return nil, ir.ValidationFailed(path, "object requires ref")
		}
		def, ok := c.defs[pd.Ref]
		if !ok {
			return nil, ir.ValidationFailed(path, "ref %q is not a definition", pd.Ref)
		}
		return &ObjectProp{Meta: meta, Def: def}, nil
	case "array", "map":
		if pd.Items == nil {
			return nil, ir.ValidationFailed(path, "%s requires items", pd.Type)
		}
		items, err := c.compileProperty(pd.Items, "", path+".items", true)
		if err != nil {
			return nil, err
		}
		if IsCollection(items) {
			return nil, ir.ValidationFailed(path+".items", "collection items cannot be collections")
		}
		if pd.Type == "map" {
			return &MapProp{Meta: meta, Items: items}, nil
		}
		if obj, ok := items.(*ObjectProp); ok {
			dd := c.doc.Definitions[obj.Def.Name]
			if dd.KeyTemplate == "" {
				return nil, ir.ValidationFailed(path+".items", "definition %q used as array items requires keyTemplate", obj.Def.Name)
			}
		}
		return &ArrayProp{Meta: meta, Items: items}, nil
	default:
		return nil, ir.ValidationFailed(path, "unknown type %q", pd.Type)
	}
}

// checkIndexTemplates verifies every indexTemplate against the attribute
// path that declares it.
func checkIndexTemplates(s *Schema) error {
	var walkErr error
	walkAttributes(s.Root, nil, map[*Definition]bool{}, func(attr queryir.Path, ref *RefProp) bool {
		if ref.Index == nil {
			return true
		}
		it := ref.Index
		if it.Target != s.ID {
			walkErr = ir.ValidationFailed(attr.String(), "indexTemplate %q must start with %q", it, s.ID)
			return false
		}
		shape, err := it.shape()
		if err != nil {
			walkErr = ir.ValidationFailed(attr.String(), "indexTemplate %q: %v", it, err)
			return false
		}
		if !sameShape(attr, shape) {
			walkErr = ir.ValidationFailed(attr.String(), "indexTemplate %q does not match attribute path %q", it, attr)
			return false
		}
		return true
	})
	return walkErr
}

// walkAttributes calls fn for every reference reachable from def. The path
// passed for a collection item reference ends at the collection field (bare);
// keyed hops through collections of objects carry a "_" key.
func walkAttributes(def *Definition, prefix queryir.Path, stack map[*Definition]bool, fn func(queryir.Path, *RefProp) bool) bool {
	if stack[def] {
		return true
	}
	stack[def] = true
	defer delete(stack, def)

	for _, field := range def.Fields {
		name := field.Info().Name
		switch p := field.(type) {
		case *RefProp:
			if !fn(prefix.Append(queryir.Field(name)), p) {
				return false
			}
		case *ObjectProp:
			if !walkAttributes(p.Def, prefix.Append(queryir.Field(name)), stack, fn) {
				return false
			}
		case *ArrayProp, *MapProp:
			switch item := Items(p).(type) {
			case *RefProp:
				if !fn(prefix.Append(queryir.Field(name)), item) {
					return false
				}
			case *ObjectProp:
				if !walkAttributes(item.Def, prefix.Append(queryir.Keyed(name, "_")), stack, fn) {
					return false
				}
			}
		}
	}
	return true
}

func sameShape(a, b queryir.Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Field != b[i].Field || a[i].Selector != b[i].Selector {
			return false
		}
	}
	return true
}

// String renders a short description used in logs.
func (s *Schema) String() string {
	return fmt.Sprintf("%s@%s", s.ID, s.Version)
}
