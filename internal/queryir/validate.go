package queryir

import "github.com/roach88/unitao/internal/ir"

// Validate checks modifier combinations that are invalid regardless of
// schema. Schema-dependent checks (iterator on a non-collection) happen
// during traversal.
func Validate(q Query) error {
	m := q.Modifiers
	if m.Schema && (m.Flat || m.Iterator) {
		return ir.Errorf(ir.CodeBadRequest, "modifier schema cannot be combined with flat or iterator")
	}
	if m.Iterator && m.Flat {
		return ir.Errorf(ir.CodeBadRequest, "modifier iterator cannot be combined with flat")
	}
	if m.Iterator && len(q.Path) == 0 {
		return ir.Errorf(ir.CodeBadRequest, "modifier iterator requires a collection segment")
	}
	if m.Iterator {
		last := q.Path[len(q.Path)-1]
		if last.Selector == SelectKey {
			return &ir.Error{Code: ir.CodeBadRequest, Message: "modifier iterator must follow a collection or wildcard segment", Path: last.String()}
		}
	}
	return nil
}

// ValidateMutationPath checks a path used to address a PATCH: it must name
// at least one segment and must not fan out.
func ValidateMutationPath(p Path) error {
	if len(p) == 0 {
		return ir.Errorf(ir.CodeBadRequest, "patch path must name a field")
	}
	for _, seg := range p {
		if seg.Selector == SelectAll {
			return &ir.Error{Code: ir.CodeBadRequest, Message: "patch path cannot contain a wildcard", Path: seg.String()}
		}
	}
	return nil
}
