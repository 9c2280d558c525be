// Package traverse resolves path queries over typed records.
//
// A Resolver walks a queryir.Path from a starting record, descending into
// fields, selecting collection items by key, and fanning out over wildcard
// selectors. When the value under the cursor is a reference and segments
// remain, the Resolver fetches the referenced record from its Source and
// continues there. Whether that fetch is local or crosses to another store
// is the Source's business.
//
// Results are deterministic for a fixed snapshot: a path without wildcards
// yields one value or a PATH_NOT_FOUND error naming the first failing
// segment; a wildcard yields one Branch per element, in collection order
// (array order, or sorted keys for maps), each reporting its own value or
// error.
package traverse
