package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
)

func TestCommit_CreateAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testRecord("VirtualHardDisk", "disk1", map[string]any{"name": "disk1", "size": 40.0})
	entry := mustCreate(t, s, rec)

	assert.Equal(t, ir.OpCreate, entry.Op)
	assert.Nil(t, entry.Before)
	require.NotNil(t, entry.After)
	assert.Equal(t, "disk1", entry.After.ID)

	got, err := s.GetRecord(ctx, "VirtualHardDisk", "disk1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCommit_CreateDuplicateConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, testRecord("VirtualHardDisk", "disk1", nil))
	_, err := s.Commit(ctx, Mutation{Op: ir.OpCreate, After: testRecord("VirtualHardDisk", "disk1", nil)})
	assert.True(t, ir.IsCode(err, ir.CodeConflict), "got %v", err)

	// The failed create must not leave a journal entry behind.
	keys, err := s.JournalKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, 1, keys[0].Archived+keys[0].Active)
}

func TestCommit_UpdateMovesVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	before := testRecord("VmHost", "host1", nil)
	mustCreate(t, s, before)

	after := before.Clone()
	after.Version = "0.0.2"
	after.Data["location"] = "rack-4"
	entry, err := s.Commit(ctx, Mutation{Op: ir.OpUpdate, Before: before, After: after})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Seq)

	got, err := s.GetRecord(ctx, "VmHost", "host1")
	require.NoError(t, err)
	assert.Equal(t, "0.0.2", got.Version)
	assert.Equal(t, "rack-4", got.Data["location"])
}

func TestCommit_UpdateMissingNotFound(t *testing.T) {
	s := createTestStore(t)
	rec := testRecord("VmHost", "ghost", nil)

	_, err := s.Commit(context.Background(), Mutation{Op: ir.OpPatch, Before: rec, After: rec})
	assert.True(t, ir.IsCode(err, ir.CodeNotFound), "got %v", err)
}

func TestCommit_DeleteKeepsPayload(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testRecord("VmHost", "host1", nil)
	mustCreate(t, s, rec)

	entry, err := s.Commit(ctx, Mutation{Op: ir.OpDelete, Before: rec})
	require.NoError(t, err)
	assert.Equal(t, rec, entry.Before)
	assert.Nil(t, entry.After)

	_, err = s.GetRecord(ctx, "VmHost", "host1")
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))

	_, err = s.Commit(ctx, Mutation{Op: ir.OpDelete, Before: rec})
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))
}

func TestCommit_RejectsKeyChange(t *testing.T) {
	s := createTestStore(t)

	before := testRecord("VmHost", "a", nil)
	after := testRecord("VmHost", "b", nil)
	_, err := s.Commit(context.Background(), Mutation{Op: ir.OpUpdate, Before: before, After: after})
	assert.Error(t, err)
}

func TestCommit_SchemaRowInSameTransaction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := []byte(`{"id":"VmHost","version":"0.0.1","properties":{"name":{"type":"string"}}}`)
	rec := &ir.Record{ID: "VmHost", Type: ir.SchemaType, Version: "0.0.1", Data: map[string]any{"id": "VmHost"}}
	_, err := s.Commit(ctx, Mutation{
		Op:     ir.OpCreate,
		After:  rec,
		Schema: &SchemaRow{Type: "VmHost", Version: "0.0.1", Document: doc, Digest: "d1"},
	})
	require.NoError(t, err)

	// A conflicting create rolls back the schema row too.
	_, err = s.Commit(ctx, Mutation{
		Op:     ir.OpCreate,
		After:  rec,
		Schema: &SchemaRow{Type: "VmHost", Version: "0.0.9", Document: doc, Digest: "d9"},
	})
	require.Error(t, err)

	rows, err := s.LoadSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.0.1", rows[0].Version)
	assert.JSONEq(t, string(doc), string(rows[0].Document))
}

func TestListRecordIDs_Sorted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "C"} {
		mustCreate(t, s, testRecord("VmHost", id, nil))
	}
	mustCreate(t, s, testRecord("VirtualHardDisk", "z", nil))

	ids, err := s.ListRecordIDs(ctx, "VmHost")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "a", "b"}, ids)

	recs, err := s.ListRecords(ctx, "VmHost")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "C", recs[0].ID)

	ids, err = s.ListRecordIDs(ctx, "Unknown")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHasRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, testRecord("VmHost", "h", nil))

	ok, err := s.HasRecord(ctx, "VmHost", "h")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasRecord(ctx, "VmHost", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
