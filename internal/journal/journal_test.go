package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/store"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	j := New(st)
	t.Cleanup(j.Close)
	return j
}

func host(id string, data map[string]any) *ir.Record {
	if data == nil {
		data = map[string]any{}
	}
	data["name"] = id
	return &ir.Record{ID: id, Type: "VmHost", Version: "0.0.1", Data: data}
}

func TestCommit_WakesConsumers(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	require.NoError(t, j.RegisterConsumer(ctx, "cmtIndex"))

	wait := j.Wait("cmtIndex")
	_, err := j.Commit(ctx, store.Mutation{Op: ir.OpCreate, After: host("h1", nil)})
	require.NoError(t, err)
	_, err = j.Commit(ctx, store.Mutation{Op: ir.OpCreate, After: host("h2", nil)})
	require.NoError(t, err)

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}

	// Both commits coalesce into one signal.
	select {
	case <-wait:
		t.Fatal("expected signals to coalesce")
	default:
	}

	pending, err := j.Pending(ctx, "cmtIndex", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRegisterConsumer_RejectsEmpty(t *testing.T) {
	j := setupJournal(t)
	err := j.RegisterConsumer(context.Background(), "")
	assert.True(t, ir.IsCode(err, ir.CodeBadRequest))
}

func TestListActiveAndArchived(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	require.NoError(t, j.RegisterConsumer(ctx, "cmtIndex"))

	rec := host("h1", nil)
	_, err := j.Commit(ctx, store.Mutation{Op: ir.OpCreate, After: rec})
	require.NoError(t, err)
	for i := 1; i <= ir.JournalPageSize; i++ {
		next := rec.Clone()
		next.Data["location"] = fmt.Sprintf("rack-%d", i)
		_, err := j.Commit(ctx, store.Mutation{Op: ir.OpPatch, Before: rec, After: next})
		require.NoError(t, err)
		rec = next
	}

	active, err := j.ListActive(ctx, "VmHost", "h1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "dataType:VmHost_dataId:h1_page:0", active[0].ID)
	assert.Len(t, active[0].Entries, ir.JournalPageSize)
	assert.Equal(t, "dataType:VmHost_dataId:h1_page:1", active[1].ID)
	assert.Len(t, active[1].Entries, 1)

	require.NoError(t, j.Ack(ctx, "cmtIndex", "VmHost", "h1", 0, 0))

	archived, err := j.ListArchived(ctx, "VmHost", "h1")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Len(t, archived[0].Entries, 1)
	assert.Equal(t, ir.OpCreate, archived[0].Entries[0].Op)

	active, err = j.ListActive(ctx, "VmHost", "h1")
	require.NoError(t, err)
	assert.Len(t, active[0].Entries, ir.JournalPageSize-1)
}

func TestPage(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	_, err := j.Commit(ctx, store.Mutation{Op: ir.OpCreate, After: host("h1", nil)})
	require.NoError(t, err)

	page, err := j.Page(ctx, ir.PageID("VmHost", "h1", 0))
	require.NoError(t, err)
	assert.Equal(t, 0, page.Page)
	require.Len(t, page.Entries, 1)
	assert.True(t, page.Entries[0].Archived)

	_, err = j.Page(ctx, ir.PageID("VmHost", "h1", 3))
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))

	_, err = j.Page(ctx, "garbage")
	assert.True(t, ir.IsCode(err, ir.CodeBadRequest))
}

func TestAck_Idempotent(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	require.NoError(t, j.RegisterConsumer(ctx, "cmtIndex"))

	_, err := j.Commit(ctx, store.Mutation{Op: ir.OpCreate, After: host("h1", nil)})
	require.NoError(t, err)

	require.NoError(t, j.Ack(ctx, "cmtIndex", "VmHost", "h1", 0, 0))
	require.NoError(t, j.Ack(ctx, "cmtIndex", "VmHost", "h1", 0, 0))

	pending, err := j.Pending(ctx, "cmtIndex", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = j.Ack(ctx, "cmtIndex", "VmHost", "nope", 0, 0)
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))
}

func TestKeys(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		_, err := j.Commit(ctx, store.Mutation{Op: ir.OpCreate, After: host(id, nil)})
		require.NoError(t, err)
	}

	keys, err := j.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, ir.Key{Type: "VmHost", ID: "a"}, keys[0].Key)
	assert.Equal(t, ir.Key{Type: "VmHost", ID: "b"}, keys[1].Key)
}

func TestClose_ReleasesWaiters(t *testing.T) {
	j := setupJournal(t)
	wait := j.Wait("cmtIndex")
	j.Close()

	select {
	case _, ok := <-wait:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}

	// Channels requested after Close are already closed.
	_, ok := <-j.Wait("late")
	assert.False(t, ok)
}

func TestCommit_FailureDoesNotWake(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	wait := j.Wait("cmtIndex")

	_, err := j.Commit(ctx, store.Mutation{Op: ir.OpDelete, Before: host("missing", nil)})
	require.Error(t, err)

	select {
	case <-wait:
		t.Fatal("failed commit must not wake consumers")
	default:
	}
}
