package schema

import "strings"

// Kind is the closed set of property shapes.
type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindReference Kind = "reference"
	KindArray     Kind = "array"
	KindMap       Kind = "map"
	KindObject    Kind = "object"
)

// MediaTypePrefix marks a string property as a reference to another data type.
const MediaTypePrefix = "inventory/"

// Property is a compiled PropertySpec.
//
// This is a sealed interface: only the types in this package implement it,
// so validation can switch exhaustively over the variants.
type Property interface {
	Kind() Kind
	Info() *Meta
	property()
}

// Meta carries the attributes shared by every variant.
type Meta struct {
	Name        string
	Required    bool
	Description string
}

func (m *Meta) Info() *Meta { return m }

// StringProp is a plain string.
type StringProp struct{ Meta }

// NumberProp is a JSON number.
type NumberProp struct{ Meta }

// BoolProp is a JSON boolean.
type BoolProp struct{ Meta }

// RefProp is a string holding the id of a record of type Target.
// Index is set when the reference is a collection item that the CmtIndex
// engine maintains.
type RefProp struct {
	Meta
	Target string
	Index  *IndexTemplate
}

// ArrayProp is an ordered collection. Item identity follows ItemKey.
type ArrayProp struct {
	Meta
	Items Property
}

// MapProp is a string-keyed collection.
type MapProp struct {
	Meta
	Items Property
}

// ObjectProp is a nested object shaped by a definition.
type ObjectProp struct {
	Meta
	Def *Definition
}

func (*StringProp) Kind() Kind { return KindString }
func (*NumberProp) Kind() Kind { return KindNumber }
func (*BoolProp) Kind() Kind   { return KindBoolean }
func (*RefProp) Kind() Kind    { return KindReference }
func (*ArrayProp) Kind() Kind  { return KindArray }
func (*MapProp) Kind() Kind    { return KindMap }
func (*ObjectProp) Kind() Kind { return KindObject }

func (*StringProp) property() {}
func (*NumberProp) property() {}
func (*BoolProp) property()   {}
func (*RefProp) property()    {}
func (*ArrayProp) property()  {}
func (*MapProp) property()    {}
func (*ObjectProp) property() {}

// Items returns the item property of a collection, or nil.
func Items(p Property) Property {
	switch v := p.(type) {
	case *ArrayProp:
		return v.Items
	case *MapProp:
		return v.Items
	default:
		return nil
	}
}

// IsCollection reports whether p is an array or map.
func IsCollection(p Property) bool {
	return Items(p) != nil
}

// Definition is an ordered object shape.
type Definition struct {
	Name        string
	Description string
	Key         *Template // nil when items of this shape are never keyed
	Fields      []Property
	byName      map[string]Property
}

// Field returns the named field.
func (d *Definition) Field(name string) (Property, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// Schema is a compiled schema document.
type Schema struct {
	ID          string
	Version     string
	Name        string
	Description string
	Key         *Template
	Root        *Definition
	Definitions map[string]*Definition
	Doc         *Document
}

// TypeOf returns the data type named by a content media type, or "".
func TypeOf(mediaType string) string {
	if !strings.HasPrefix(mediaType, MediaTypePrefix) {
		return ""
	}
	return strings.TrimPrefix(mediaType, MediaTypePrefix)
}
