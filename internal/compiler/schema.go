package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/unitao/internal/schema"
)

// refPrefix introduces the reference shorthand: "ref:VirtualHardDisk".
const refPrefix = "ref:"

// CompileSchema converts a CUE value into a schema document. The data type
// id is the value's label unless an explicit id field is given.
//
//	schema: VirtualMachine: {
//		version:     "0.0.1"
//		keyTemplate: "{name}"
//		properties: {
//			name:  "string"
//			host?: "ref:VmHost"
//			storage: {type: "array", items: {type: "object", ref: "storage"}}
//		}
//		definitions: storage: {
//			keyTemplate: "{name}"
//			properties: {name: "string", vhd: "ref:VirtualHardDisk"}
//		}
//	}
//
// Properties keep their CUE declaration order. An optional CUE field
// (label?) is a property with required: false. A property may be written
// as a full struct or as a string shorthand: "string", "number",
// "boolean", or "ref:<Type>". A struct property may name its reference
// type with target instead of spelling out contentMediaType.
//
// The document is compiled with schema.Compile before it is returned, so
// every structural rule is checked here too.
func CompileSchema(v cue.Value) (*schema.Document, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	doc := &schema.Document{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		doc.ID = labels[len(labels)-1].String()
	}

	var err error
	if doc.ID, err = optionalString(v, "id", doc.ID); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, &CompileError{Field: "id", Message: "id is required", Pos: v.Pos()}
	}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	if doc.Version, err = versionVal.String(); err != nil {
		return nil, formatCUEError(err)
	}
	if doc.Name, err = optionalString(v, "name", doc.ID); err != nil {
		return nil, err
	}
	if doc.Description, err = optionalString(v, "description", ""); err != nil {
		return nil, err
	}
	if doc.KeyTemplate, err = optionalString(v, "keyTemplate", ""); err != nil {
		return nil, err
	}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, &CompileError{Field: "properties", Message: "properties are required", Pos: v.Pos()}
	}
	if doc.Properties, err = parseProperties(propsVal, "properties"); err != nil {
		return nil, err
	}

	defsVal := v.LookupPath(cue.ParsePath("definitions"))
	if defsVal.Exists() {
		iter, err := defsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		doc.Definitions = map[string]*schema.DefinitionDoc{}
		for iter.Next() {
			def, err := parseDefinition(iter.Value(), "definitions."+iter.Label())
			if err != nil {
				return nil, err
			}
			doc.Definitions[iter.Label()] = def
		}
	}

	if _, err := schema.Compile(doc); err != nil {
		return nil, &CompileError{Field: "schema." + doc.ID, Message: err.Error(), Pos: v.Pos()}
	}
	return doc, nil
}

func parseDefinition(v cue.Value, path string) (*schema.DefinitionDoc, error) {
	def := &schema.DefinitionDoc{}
	var err error
	if def.KeyTemplate, err = optionalString(v, "keyTemplate", ""); err != nil {
		return nil, err
	}
	if def.Description, err = optionalString(v, "description", ""); err != nil {
		return nil, err
	}
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, &CompileError{Field: path + ".properties", Message: "properties are required", Pos: v.Pos()}
	}
	if def.Properties, err = parseProperties(propsVal, path+".properties"); err != nil {
		return nil, err
	}
	return def, nil
}

// parseProperties reads a struct of properties in declaration order.
func parseProperties(v cue.Value, path string) (schema.Properties, error) {
	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}
	props := schema.Properties{}
	for iter.Next() {
		name := iter.Label()
		spec, err := parseProperty(iter.Value(), path+"."+name)
		if err != nil {
			return nil, err
		}
		if iter.Selector().ConstraintType() == cue.OptionalConstraint {
			optional := false
			spec.Required = &optional
		}
		props = append(props, schema.NamedProperty{Name: name, Spec: spec})
	}
	return props, nil
}

func parseProperty(v cue.Value, path string) (*schema.PropertyDoc, error) {
	if s, err := v.String(); err == nil {
		return shorthand(s, path, v.Pos())
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("property must be a struct or a type name, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return nil, &CompileError{Field: path + ".type", Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec := &schema.PropertyDoc{Type: typ}

	if reqVal := v.LookupPath(cue.ParsePath("required")); reqVal.Exists() {
		req, err := reqVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Required = &req
	}
	for field, dst := range map[string]*string{
		"description":      &spec.Description,
		"contentMediaType": &spec.ContentMediaType,
		"ref":              &spec.Ref,
		"indexTemplate":    &spec.IndexTemplate,
	} {
		if *dst, err = optionalString(v, field, ""); err != nil {
			return nil, err
		}
	}
	if target, err := optionalString(v, "target", ""); err != nil {
		return nil, err
	} else if target != "" {
		spec.ContentMediaType = schema.MediaTypePrefix + target
	}

	if itemsVal := v.LookupPath(cue.ParsePath("items")); itemsVal.Exists() {
		if spec.Items, err = parseProperty(itemsVal, path+".items"); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func shorthand(s, path string, pos token.Pos) (*schema.PropertyDoc, error) {
	switch {
	case s == "string" || s == "number" || s == "boolean":
		return &schema.PropertyDoc{Type: s}, nil
	case strings.HasPrefix(s, refPrefix) && len(s) > len(refPrefix):
		return &schema.PropertyDoc{Type: "string", ContentMediaType: schema.MediaTypePrefix + s[len(refPrefix):]}, nil
	default:
		return nil, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("unknown property shorthand %q", s),
			Pos:     pos,
		}
	}
}

// optionalString returns the string at field, or def when it is absent.
func optionalString(v cue.Value, field, def string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
