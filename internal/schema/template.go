package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
)

// Template is a string with {var} placeholders.
type Template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	literal string
	varName string // non-empty for a placeholder
}

// ParseTemplate parses a template. Placeholders must be non-empty and must
// not nest.
func ParseTemplate(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		closing := strings.IndexByte(rest, '}')
		if open < 0 {
			if closing >= 0 {
				return nil, fmt.Errorf("template %q: unmatched '}'", s)
			}
			t.parts = append(t.parts, templatePart{literal: rest})
			break
		}
		if closing >= 0 && closing < open {
			return nil, fmt.Errorf("template %q: unmatched '}'", s)
		}
		if open > 0 {
			t.parts = append(t.parts, templatePart{literal: rest[:open]})
		}
		rest = rest[open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, fmt.Errorf("template %q: unmatched '{'", s)
		}
		name := rest[:end]
		if name == "" || strings.ContainsAny(name, "{/[]") {
			return nil, fmt.Errorf("template %q: invalid placeholder %q", s, name)
		}
		t.parts = append(t.parts, templatePart{varName: name})
		rest = rest[end+1:]
	}
	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(s string) *Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string {
	return t.raw
}

// Vars returns placeholder names in order of first appearance.
func (t *Template) Vars() []string {
	var vars []string
	seen := map[string]bool{}
	for _, p := range t.parts {
		if p.varName != "" && !seen[p.varName] {
			seen[p.varName] = true
			vars = append(vars, p.varName)
		}
	}
	return vars
}

// IsSingleVar reports whether the template is exactly one placeholder.
func (t *Template) IsSingleVar() bool {
	return len(t.parts) == 1 && t.parts[0].varName != ""
}

// Render substitutes placeholders from data. Every placeholder must resolve
// to a non-empty string field.
func (t *Template) Render(data map[string]any) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.varName == "" {
			b.WriteString(p.literal)
			continue
		}
		s, ok := data[p.varName].(string)
		if !ok || s == "" {
			return "", ir.ValidationFailed(p.varName, "template %q: field %q must be a non-empty string", t.raw, p.varName)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// IndexTemplate is a parsed indexTemplate: the target type, a single-var
// target id, and the path from the target record to the index collection.
type IndexTemplate struct {
	raw      string
	Target   string
	id       *Template
	segments []*Template // one per path segment, selectors included
}

// ParseIndexTemplate parses "<Type>/{idVar}/<seg>/...".
func ParseIndexTemplate(s string) (*IndexTemplate, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 3 {
		return nil, fmt.Errorf("indexTemplate %q: expected <Type>/{id}/<path>", s)
	}
	it := &IndexTemplate{raw: s, Target: parts[0]}
	if it.Target == "" || strings.ContainsAny(it.Target, "{}[]") {
		return nil, fmt.Errorf("indexTemplate %q: first segment must be a literal type name", s)
	}
	id, err := ParseTemplate(parts[1])
	if err != nil {
		return nil, fmt.Errorf("indexTemplate %q: %w", s, err)
	}
	if !id.IsSingleVar() {
		return nil, fmt.Errorf("indexTemplate %q: second segment must be a single {var}", s)
	}
	it.id = id
	for _, seg := range parts[2:] {
		tmpl, err := ParseTemplate(seg)
		if err != nil {
			return nil, fmt.Errorf("indexTemplate %q: %w", s, err)
		}
		it.segments = append(it.segments, tmpl)
	}
	return it, nil
}

func (it *IndexTemplate) String() string {
	return it.raw
}

// Vars returns every placeholder the template needs from a source record.
func (it *IndexTemplate) Vars() []string {
	vars := it.id.Vars()
	seen := map[string]bool{vars[0]: true}
	for _, seg := range it.segments {
		for _, v := range seg.Vars() {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}

// shape returns the template path with every placeholder replaced by a
// sentinel key, for compile-time comparison with the declaring attribute path.
func (it *IndexTemplate) shape() (queryir.Path, error) {
	sentinel := map[string]any{}
	for _, v := range it.Vars() {
		sentinel[v] = "_"
	}
	var b strings.Builder
	for i, seg := range it.segments {
		if i > 0 {
			b.WriteByte('/')
		}
		s, err := seg.Render(sentinel)
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	return queryir.ParsePath(b.String())
}

// IndexTarget is a rendered index location.
type IndexTarget struct {
	Type string
	ID   string
	Path queryir.Path // last segment is the index collection field
}

// String renders "Type/id/path".
func (t IndexTarget) String() string {
	return t.Type + "/" + t.ID + "/" + t.Path.String()
}

// Render renders the template from a source record's data. An error means
// the source does not participate in this index.
func (it *IndexTemplate) Render(data map[string]any) (IndexTarget, error) {
	id, err := it.id.Render(data)
	if err != nil {
		return IndexTarget{}, err
	}
	segs := make([]string, len(it.segments))
	for i, seg := range it.segments {
		s, err := renderSegment(seg, data)
		if err != nil {
			return IndexTarget{}, err
		}
		segs[i] = s
	}
	path, err := queryir.ParsePath(strings.Join(segs, "/"))
	if err != nil {
		return IndexTarget{}, err
	}
	return IndexTarget{Type: it.Target, ID: id, Path: path}, nil
}

// renderSegment renders one path segment, escaping substituted values that
// land inside a selector.
func renderSegment(seg *Template, data map[string]any) (string, error) {
	var b strings.Builder
	inSelector := false
	for _, p := range seg.parts {
		if p.varName == "" {
			b.WriteString(p.literal)
			if i := strings.LastIndexAny(p.literal, "[]"); i >= 0 {
				inSelector = p.literal[i] == '['
			}
			continue
		}
		s, ok := data[p.varName].(string)
		if !ok || s == "" {
			return "", ir.ValidationFailed(p.varName, "indexTemplate field %q must be a non-empty string", p.varName)
		}
		if inSelector {
			s = queryir.EscapeKey(s)
		} else if strings.ContainsAny(s, "/[]") {
			return "", ir.ValidationFailed(p.varName, "indexTemplate field %q value %q is not a valid path segment", p.varName, s)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}
