// Package queryir provides the intermediate representation of record path
// queries: the addressing language shared by GET traversal, PATCH targets,
// and indexTemplate rendering.
//
// GRAMMAR:
//
//	path     = segment ( "/" segment )*
//	segment  = field [ selector ]
//	selector = "[" key "]" | "[*]"
//
// A key is URL path-escaped when it contains "/", "[", "]" or "%".
// The empty path addresses the record itself.
//
// SEMANTICS:
//
//   - field descends into the named property of the current object.
//   - field[key] picks the element of an array or map whose item key equals
//     key (array-of-object items use their definition's keyTemplate,
//     array-of-scalar items use their string form, map items use the map key).
//   - field[*] fans out over every element; each element becomes its own
//     branch and reports its own result.
//
// MODIFIERS:
//
// Modifiers apply to the terminal node(s) only and arrive as URL query
// parameters:
//
//	schema    return the property/schema metadata instead of data
//	flat      return only scalar and reference fields of the node
//	iterator  return the selector keys of a collection (terminal segment must
//	          be a collection field or a wildcard)
//	ref       return a terminal reference as the raw id instead of the
//	          referenced record
//
// Query values are immutable after parsing; all functions here are pure.
package queryir
