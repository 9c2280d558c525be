package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDigest_Stable(t *testing.T) {
	a := &Record{ID: "vhd-1", Type: "VirtualHardDisk", Version: "0.0.1", Data: map[string]any{"name": "1", "size": 10.0}}
	b := &Record{ID: "vhd-1", Type: "VirtualHardDisk", Version: "0.0.1", Data: map[string]any{"size": 10, "name": "1"}}

	da, err := RecordDigest(a)
	require.NoError(t, err)
	db, err := RecordDigest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db, "key order and integer representation must not change the digest")
	assert.Len(t, da, 64)
}

func TestRecordDigest_DiffersOnData(t *testing.T) {
	a := &Record{ID: "x", Type: "T", Version: "0.0.1", Data: map[string]any{"v": "1"}}
	b := &Record{ID: "x", Type: "T", Version: "0.0.1", Data: map[string]any{"v": "2"}}

	assert.NotEqual(t, mustDigest(t, a), mustDigest(t, b))
}

func TestEntryDigest_IgnoresConsumerState(t *testing.T) {
	after := &Record{ID: "x", Type: "T", Version: "0.0.1", Data: map[string]any{}}
	e1 := &JournalEntry{DataType: "T", DataID: "x", Page: 0, Seq: 0, Op: OpCreate, After: after,
		Consumers: map[string]ConsumerStatus{"cmtIndex": StatusPending}}
	e2 := &JournalEntry{DataType: "T", DataID: "x", Page: 0, Seq: 0, Op: OpCreate, After: after,
		Consumers: map[string]ConsumerStatus{"cmtIndex": StatusDone}, Archived: true}

	d1, err := EntryDigest(e1)
	require.NoError(t, err)
	d2, err := EntryDigest(e2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	e2.Seq = 1
	d3, err := EntryDigest(e2)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t, hashWithDomain(DomainRecord, data), hashWithDomain(DomainEntry, data))
	assert.NotEqual(t, hashWithDomain(DomainRecord, data), hashWithDomain(DomainSchema, data))
}

func mustDigest(t *testing.T, r *Record) string {
	t.Helper()
	d, err := RecordDigest(r)
	require.NoError(t, err)
	return d
}
