// Package ir holds the shared vocabulary of the record platform: records,
// journal entries, the error taxonomy, semantic versions, and the canonical
// JSON encoding used for digests and golden traces.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Record data is a plain JSON tree (map[string]any, []any, string,
//     float64, bool, nil). Nothing in ir assumes a schema.
//   - Journal order is (page, seq) per (dataType, dataId), never wall time.
//   - Wire JSON uses the camelCase names of the HTTP surface.
package ir
