package queryir

import (
	"net/url"
	"strings"

	"github.com/roach88/unitao/internal/ir"
)

// ParsePath parses path syntax into a Path. Leading and trailing slashes
// are ignored; the empty string yields an empty path.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}

	var path Path
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, badPath(s, "unbalanced ']'")
			}
		case '/':
			if depth == 0 {
				seg, err := parseSegment(s[start:i])
				if err != nil {
					return nil, err
				}
				path = append(path, seg)
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, badPath(s, "unbalanced '['")
	}
	seg, err := parseSegment(s[start:])
	if err != nil {
		return nil, err
	}
	return append(path, seg), nil
}

// MustParsePath is like ParsePath but panics on error.
// Use only in tests or for literal paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(s string) (Segment, error) {
	if s == "" {
		return Segment{}, badPath(s, "empty segment")
	}
	open := strings.IndexByte(s, '[')
	if open < 0 {
		if err := checkField(s); err != nil {
			return Segment{}, err
		}
		return Field(s), nil
	}
	if !strings.HasSuffix(s, "]") || strings.Count(s, "[") != 1 {
		return Segment{}, badPath(s, "selector must be a single trailing [key]")
	}
	name := s[:open]
	if err := checkField(name); err != nil {
		return Segment{}, err
	}
	raw := s[open+1 : len(s)-1]
	if raw == "*" {
		return All(name), nil
	}
	if raw == "" {
		return Segment{}, badPath(s, "empty selector key")
	}
	key, err := url.PathUnescape(raw)
	if err != nil {
		return Segment{}, badPath(s, "invalid key escape")
	}
	return Keyed(name, key), nil
}

func checkField(name string) error {
	if name == "" {
		return badPath(name, "empty field name")
	}
	if strings.ContainsAny(name, "[]*%") {
		return badPath(name, "invalid character in field name")
	}
	return nil
}

// ParseModifiers reads modifiers from URL query parameters. Parameters that
// are not modifiers are ignored. A modifier is on when present with an empty
// value or a value that is not "false".
func ParseModifiers(values url.Values) Modifiers {
	on := func(name string) bool {
		vals, ok := values[name]
		if !ok {
			return false
		}
		return len(vals) == 0 || vals[0] != "false"
	}
	return Modifiers{
		Schema:   on("schema"),
		Flat:     on("flat"),
		Iterator: on("iterator"),
		Ref:      on("ref"),
	}
}

// ParseQuery parses a path and URL query parameters into a validated Query.
func ParseQuery(path string, values url.Values) (Query, error) {
	p, err := ParsePath(path)
	if err != nil {
		return Query{}, err
	}
	q := Query{Path: p, Modifiers: ParseModifiers(values)}
	if err := Validate(q); err != nil {
		return Query{}, err
	}
	return q, nil
}

func badPath(seg, reason string) error {
	return &ir.Error{Code: ir.CodeBadRequest, Message: "invalid path: " + reason, Path: seg}
}
