package queryir

import (
	"net/url"
	"strings"
)

// SelectorKind distinguishes the three segment forms.
type SelectorKind int

const (
	// SelectNone is a bare field segment.
	SelectNone SelectorKind = iota
	// SelectKey picks one element by item key.
	SelectKey
	// SelectAll fans out over every element.
	SelectAll
)

// Segment is one step of a path.
type Segment struct {
	Field    string
	Selector SelectorKind
	Key      string // set when Selector == SelectKey
}

// Field returns a bare field segment.
func Field(name string) Segment {
	return Segment{Field: name}
}

// Keyed returns a field[key] segment.
func Keyed(name, key string) Segment {
	return Segment{Field: name, Selector: SelectKey, Key: key}
}

// All returns a field[*] segment.
func All(name string) Segment {
	return Segment{Field: name, Selector: SelectAll}
}

// String renders the segment in path syntax, escaping the key when needed.
func (s Segment) String() string {
	switch s.Selector {
	case SelectKey:
		return s.Field + "[" + EscapeKey(s.Key) + "]"
	case SelectAll:
		return s.Field + "[*]"
	default:
		return s.Field
	}
}

// Path is an ordered list of segments.
type Path []Segment

// String renders the path in path syntax.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.String()
	}
	return strings.Join(parts, "/")
}

// HasWildcard reports whether any segment fans out.
func (p Path) HasWildcard() bool {
	for _, seg := range p {
		if seg.Selector == SelectAll {
			return true
		}
	}
	return false
}

// Prefix returns the first n segments rendered as a path; used to name the
// failing segment in errors.
func (p Path) Prefix(n int) string {
	if n > len(p) {
		n = len(p)
	}
	return p[:n].String()
}

// Parent returns the path without its last segment and that segment.
// Parent of an empty path returns (nil, Segment{}, false).
func (p Path) Parent() (Path, Segment, bool) {
	if len(p) == 0 {
		return nil, Segment{}, false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Append returns a new path with seg added, leaving p untouched.
func (p Path) Append(seg Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// Modifiers are the terminal-node options of a query.
type Modifiers struct {
	Schema   bool
	Flat     bool
	Iterator bool
	Ref      bool
}

// Query is a parsed path plus its modifiers.
type Query struct {
	Path      Path
	Modifiers Modifiers
}

// String renders the query with modifiers as URL query parameters.
func (q Query) String() string {
	var mods []string
	if q.Modifiers.Schema {
		mods = append(mods, "schema")
	}
	if q.Modifiers.Flat {
		mods = append(mods, "flat")
	}
	if q.Modifiers.Iterator {
		mods = append(mods, "iterator")
	}
	if q.Modifiers.Ref {
		mods = append(mods, "ref")
	}
	if len(mods) == 0 {
		return q.Path.String()
	}
	return q.Path.String() + "?" + strings.Join(mods, "&")
}

// EscapeKey escapes a selector key so it survives path parsing.
func EscapeKey(key string) string {
	if !strings.ContainsAny(key, "/[]%") {
		return key
	}
	return url.PathEscape(key)
}
