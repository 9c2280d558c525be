package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaType is the data type under which schema registrations are journaled.
const SchemaType = "schema"

// CmtIdxType is the read-only data type exposing maintained reverse indices.
const CmtIdxType = "cmtIdx"

// JournalType is the reserved path prefix of the journal inspection surface.
const JournalType = "journal"

// InternalTypes are data types no user schema may declare.
var InternalTypes = map[string]bool{
	SchemaType:  true,
	CmtIdxType:  true,
	JournalType: true,
}

// Record is one stored document.
//
// Data must validate against the schema named by Type at Version, and ID
// must equal that schema's keyTemplate rendered from Data.
type Record struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Data    map[string]any `json:"data"`
}

// Key returns the (type, id) key of the record.
func (r *Record) Key() Key {
	return Key{Type: r.Type, ID: r.ID}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = CloneObject(r.Data)
	return &c
}

// Key identifies a record within one store.
type Key struct {
	Type string `json:"dataType"`
	ID   string `json:"dataId"`
}

func (k Key) String() string {
	return k.Type + "/" + k.ID
}

// Op is the kind of mutation a journal entry records.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// ConsumerStatus is the per-consumer processing state of an entry.
type ConsumerStatus string

const (
	StatusPending ConsumerStatus = "pending"
	StatusDone    ConsumerStatus = "done"
)

// JournalPageSize is the capacity of one journal page.
const JournalPageSize = 10

// JournalEntry is one change-log entry for a (dataType, dataId) key.
//
// Before is the record prior to the mutation (nil on create); After is the
// record afterwards (nil on delete). Entries for one key are totally ordered
// by (Page, Seq).
type JournalEntry struct {
	DataType  string                    `json:"dataType"`
	DataID    string                    `json:"dataId"`
	Page      int                       `json:"page"`
	Seq       int                       `json:"seq"`
	Op        Op                        `json:"op"`
	Before    *Record                   `json:"before,omitempty"`
	After     *Record                   `json:"after,omitempty"`
	Consumers map[string]ConsumerStatus `json:"consumers"`
	Archived  bool                      `json:"archived"`
	Digest    string                    `json:"digest"`
}

// Key returns the (type, id) the entry belongs to.
func (e *JournalEntry) Key() Key {
	return Key{Type: e.DataType, ID: e.DataID}
}

// Ref returns a compact "type/id/page-seq" label for logs.
func (e *JournalEntry) Ref() string {
	return fmt.Sprintf("%s/%s/%d-%d", e.DataType, e.DataID, e.Page, e.Seq)
}

// Payload returns the record that carries the entry's data: After for
// create/update/patch, Before for delete.
func (e *JournalEntry) Payload() *Record {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// JournalPage is one page of entries, in seq order.
type JournalPage struct {
	ID      string          `json:"id"`
	Page    int             `json:"page"`
	Entries []*JournalEntry `json:"entries"`
}

// PageID renders the external page identifier.
func PageID(dataType, dataID string, page int) string {
	return fmt.Sprintf("dataType:%s_dataId:%s_page:%d", dataType, dataID, page)
}

// ParsePageID parses an identifier produced by PageID.
func ParsePageID(s string) (dataType, dataID string, page int, err error) {
	const (
		typePrefix = "dataType:"
		idMark     = "_dataId:"
		pageMark   = "_page:"
	)
	if !strings.HasPrefix(s, typePrefix) {
		return "", "", 0, Errorf(CodeBadRequest, "invalid page id %q", s)
	}
	rest := s[len(typePrefix):]
	pi := strings.LastIndex(rest, pageMark)
	if pi < 0 {
		return "", "", 0, Errorf(CodeBadRequest, "invalid page id %q: missing page", s)
	}
	page, convErr := strconv.Atoi(rest[pi+len(pageMark):])
	if convErr != nil || page < 0 {
		return "", "", 0, Errorf(CodeBadRequest, "invalid page id %q: bad page number", s)
	}
	rest = rest[:pi]
	ii := strings.Index(rest, idMark)
	if ii <= 0 {
		return "", "", 0, Errorf(CodeBadRequest, "invalid page id %q: missing dataId", s)
	}
	return rest[:ii], rest[ii+len(idMark):], page, nil
}
