package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the wire form of a schema.
type Document struct {
	ID          string                    `json:"id"`
	Version     string                    `json:"version"`
	Name        string                    `json:"name,omitempty"`
	Description string                    `json:"description,omitempty"`
	KeyTemplate string                    `json:"keyTemplate,omitempty"`
	Properties  Properties                `json:"properties"`
	Definitions map[string]*DefinitionDoc `json:"definitions,omitempty"`
}

// DefinitionDoc is a named object shape referenced by PropertyDoc.Ref.
type DefinitionDoc struct {
	KeyTemplate string     `json:"keyTemplate,omitempty"`
	Description string     `json:"description,omitempty"`
	Properties  Properties `json:"properties"`
}

// PropertyDoc is the wire form of one property.
type PropertyDoc struct {
	Type             string       `json:"type"`
	Required         *bool        `json:"required,omitempty"`
	Description      string       `json:"description,omitempty"`
	ContentMediaType string       `json:"contentMediaType,omitempty"`
	Items            *PropertyDoc `json:"items,omitempty"`
	Ref              string       `json:"ref,omitempty"`
	IndexTemplate    string       `json:"indexTemplate,omitempty"`
}

// NamedProperty pairs a property name with its definition.
type NamedProperty struct {
	Name string
	Spec *PropertyDoc
}

// Properties is an ordered property list. It encodes as a JSON object whose
// key order is the list order.
type Properties []NamedProperty

// Get returns the named property.
func (ps Properties) Get(name string) (*PropertyDoc, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Spec, true
		}
	}
	return nil, false
}

// MarshalJSON writes properties in list order.
func (ps Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Spec)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping its key order. Duplicate keys
// are rejected.
func (ps *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ps = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties: expected object, got %v", tok)
	}

	out := Properties{}
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("properties: expected key, got %v", tok)
		}
		if seen[name] {
			return fmt.Errorf("properties: duplicate property %q", name)
		}
		seen[name] = true

		var spec PropertyDoc
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		out = append(out, NamedProperty{Name: name, Spec: &spec})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ps = out
	return nil
}

// ParseDocument decodes a schema document from JSON.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	return &doc, nil
}

// DocumentFromMap converts record data (as decoded by encoding/json) into a
// Document. Property order follows Go's map encoding, which sorts keys.
func DocumentFromMap(m map[string]any) (*Document, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode schema data: %w", err)
	}
	return ParseDocument(data)
}

// ToMap converts the document into a plain JSON tree for storage as record data.
func (d *Document) ToMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode schema document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode schema document: %w", err)
	}
	return m, nil
}

// IsRequired reports the effective required flag (default true).
func (p *PropertyDoc) IsRequired() bool {
	return p.Required == nil || *p.Required
}
