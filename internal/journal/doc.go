// Package journal implements the change journal of a data service.
//
// Every record mutation commits together with one journal entry (see
// store.Commit). Entries are grouped per (dataType, dataId) key into pages
// of ir.JournalPageSize entries, addressed externally by page ids of the
// form "dataType:{t}_dataId:{id}_page:{n}".
//
// Consumers register by name. Each entry records a pending/done status per
// consumer registered when it was appended; once every consumer has acked,
// the entry is archived. Archival is monotonic.
//
// Consumers are not polled: Commit signals every consumer's wake channel.
// Signals coalesce, so a consumer woken once must drain Pending until it
// is empty.
package journal
