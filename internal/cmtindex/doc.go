// Package cmtindex maintains reverse indexes declared by indexTemplates.
//
// A reference collection item may declare an indexTemplate such as
// "VmHost/{host}/virtualHardDisk". Every record of the referenced (source)
// type whose data renders that template has its id kept in the named
// collection of the target record. The Engine derives these subscriptions
// from every known schema and applies them by consuming the journal.
//
// PROCESSING MODEL:
//
// The Engine is a journal consumer named "cmtIndex". It is woken by the
// journal's coalescing signal after each commit, reads its pending entries
// in key order, and acks each entry only after it was applied. Writes go
// through the same Patch path as client writes, so indexed collections are
// validated and journaled like any other change.
//
// Source entries insert (create, update, patch) or retract (delete, or an
// update that moves the rendered target) the source id. Target entries
// trigger a backfill scan over the subscribed source types. Schema entries
// re-derive subscriptions; new subscriptions trigger a full backfill.
//
// Every step is idempotent: inserts are set-inserts, retractions tolerate
// a missing item or path, and registry rows are upserted. Redelivery of an
// entry leaves identical state.
//
// FAILURES:
//
// Transient failures (UNAVAILABLE, internal errors) are retried with
// exponential backoff. An entry that still fails stays pending and blocks
// later entries of the same key until the next wake. Permanent failures
// are logged and the entry is acked.
package cmtindex
