package dataservice

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
	"github.com/roach88/unitao/internal/testutil"
)

func openStore(t *testing.T, name string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func setupService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := New(context.Background(), openStore(t, "data.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func register(t *testing.T, svc *Service, fixtures ...string) {
	t.Helper()
	for _, f := range fixtures {
		doc, err := schema.ParseDocument([]byte(f))
		require.NoError(t, err)
		_, err = svc.RegisterSchema(context.Background(), doc)
		require.NoError(t, err)
	}
}

func disk(name string, extra map[string]any) *ir.Record {
	data := map[string]any{"name": name}
	for k, v := range extra {
		data[k] = v
	}
	return &ir.Record{Type: "VirtualHardDisk", Data: data}
}

func vm(name, vhd string) *ir.Record {
	return &ir.Record{Type: "VirtualMachine", Data: map[string]any{
		"name":    name,
		"storage": []any{map[string]any{"name": "disk1", "vhd": vhd}},
		"network": []any{},
	}}
}

// memRemote is an in-memory Remote holding records of other stores.
type memRemote struct {
	mu      sync.Mutex
	schemas map[string]*schema.Schema
	records map[ir.Key]*ir.Record
	err     error
	patches []string
}

func newMemRemote() *memRemote {
	return &memRemote{schemas: map[string]*schema.Schema{}, records: map[ir.Key]*ir.Record{}}
}

func (m *memRemote) Schemas(context.Context) ([]*schema.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*schema.Schema
	for _, s := range m.schemas {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRemote) Schema(_ context.Context, typ, _ string) (*schema.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schemas[typ]; ok {
		return s, nil
	}
	return nil, ir.NotFound("type %s not found", typ)
}

func (m *memRemote) Record(_ context.Context, typ, id string) (*ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.records[ir.Key{Type: typ, ID: id}]; ok {
		return r.Clone(), nil
	}
	return nil, ir.NotFound("record %s/%s not found", typ, id)
}

func (m *memRemote) List(_ context.Context, typ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for k := range m.records {
		if k.Type == typ {
			ids = append(ids, k.ID)
		}
	}
	return ids, nil
}

func (m *memRemote) Patch(_ context.Context, typ, id string, path queryir.Path, _ any) (*ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, typ+"/"+id+"/"+path.String())
	return m.records[ir.Key{Type: typ, ID: id}], nil
}

func TestCreate_AssignsIDAndJournals(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema)

	rec, err := svc.Create(ctx, disk("d0", nil))
	require.NoError(t, err)
	assert.Equal(t, "d0", rec.ID)
	assert.Equal(t, "0.0.1", rec.Version)

	got, err := svc.Read(ctx, "VirtualHardDisk", "d0")
	require.NoError(t, err)
	assert.Equal(t, rec.Data, got.Data)

	pages, err := svc.Journal().ListArchived(ctx, "VirtualHardDisk", "d0")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Entries, 1)
	assert.Equal(t, ir.OpCreate, pages[0].Entries[0].Op)
}

func TestCreate_Errors(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema, testutil.VmHostSchemaV1, testutil.VirtualMachineSchema)
	_, err := svc.Create(ctx, disk("d0", nil))
	require.NoError(t, err)

	tests := []struct {
		name string
		rec  *ir.Record
		code ir.ErrorCode
		path string
	}{
		{"duplicate", disk("d0", nil), ir.CodeConflict, ""},
		{"unknown type", &ir.Record{Type: "Nope", Data: map[string]any{}}, ir.CodeNotFound, ""},
		{"internal type", &ir.Record{Type: ir.JournalType, Data: map[string]any{}}, ir.CodeBadRequest, ""},
		{"unknown field", disk("d1", map[string]any{"color": "red"}), ir.CodeValidationFailed, "color"},
		{"id mismatch", &ir.Record{ID: "other", Type: "VirtualHardDisk", Data: map[string]any{"name": "d1"}}, ir.CodeValidationFailed, "id"},
		{"dangling reference", vm("vm1", "missing"), ir.CodeValidationFailed, "storage[disk1]/vhd"},
		{"empty reference", vm("vm1", ""), ir.CodeValidationFailed, "storage[disk1]/vhd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.rec)
			require.Error(t, err)
			assert.Equal(t, tt.code, ir.CodeOf(err))
			if tt.path != "" {
				var e *ir.Error
				require.True(t, errors.As(err, &e))
				assert.Equal(t, tt.path, e.Path)
			}
		})
	}
}

func TestCreate_RemoteReference(t *testing.T) {
	remote := newMemRemote()
	svc := setupService(t, WithRemote(remote))
	ctx := context.Background()
	register(t, svc, testutil.VmHostSchemaV1, testutil.VirtualMachineSchema)

	remote.records[ir.Key{Type: "VirtualHardDisk", ID: "d0"}] = &ir.Record{ID: "d0", Type: "VirtualHardDisk", Data: map[string]any{"name": "d0"}}

	_, err := svc.Create(ctx, vm("vm1", "d0"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, vm("vm2", "d9"))
	assert.True(t, ir.IsCode(err, ir.CodeValidationFailed))

	remote.err = ir.Unavailable("store-b", errors.New("connection refused"))
	_, err = svc.Create(ctx, vm("vm3", "d0"))
	assert.True(t, ir.IsCode(err, ir.CodeUnavailable))
}

func TestCreate_LocalTypeIsAuthoritative(t *testing.T) {
	remote := newMemRemote()
	svc := setupService(t, WithRemote(remote))
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema, testutil.VirtualMachineSchema)

	// A remote copy does not satisfy a reference to a type stored here.
	remote.records[ir.Key{Type: "VirtualHardDisk", ID: "d0"}] = &ir.Record{ID: "d0", Type: "VirtualHardDisk"}
	_, err := svc.Create(ctx, vm("vm1", "d0"))
	assert.True(t, ir.IsCode(err, ir.CodeValidationFailed))
}

func TestReplace(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VmHostSchemaV1)

	_, err := svc.Create(ctx, &ir.Record{Type: "VmHost", Data: map[string]any{"name": "h1"}})
	require.NoError(t, err)

	t.Run("moves to a newer version", func(t *testing.T) {
		register(t, svc, testutil.VmHostSchemaV2)
		rec, err := svc.Replace(ctx, "VmHost", "h1", "0.0.2", map[string]any{"name": "h1", "location": "rack-1"})
		require.NoError(t, err)
		assert.Equal(t, "0.0.2", rec.Version)
	})

	t.Run("keeps current version by default", func(t *testing.T) {
		rec, err := svc.Replace(ctx, "VmHost", "h1", "", map[string]any{"name": "h1", "location": "rack-2"})
		require.NoError(t, err)
		assert.Equal(t, "0.0.2", rec.Version)
	})

	t.Run("rejects id change", func(t *testing.T) {
		_, err := svc.Replace(ctx, "VmHost", "h1", "", map[string]any{"name": "h2"})
		assert.True(t, ir.IsCode(err, ir.CodeValidationFailed))
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := svc.Replace(ctx, "VmHost", "h9", "", map[string]any{"name": "h9"})
		assert.True(t, ir.IsNotFound(err))
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := svc.Replace(ctx, "VmHost", "h1", "9.9.9", map[string]any{"name": "h1"})
		assert.True(t, ir.IsNotFound(err))
	})
}

func TestDelete(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema, testutil.VirtualMachineSchema)

	_, err := svc.Create(ctx, disk("d0", nil))
	require.NoError(t, err)
	_, err = svc.Create(ctx, vm("vm1", "d0"))
	require.NoError(t, err)

	// No cascade: the referencing VM stays.
	require.NoError(t, svc.Delete(ctx, "VirtualHardDisk", "d0"))
	_, err = svc.Read(ctx, "VirtualMachine", "vm1")
	require.NoError(t, err)

	err = svc.Delete(ctx, "VirtualHardDisk", "d0")
	assert.True(t, ir.IsNotFound(err))

	pages, err := svc.Journal().ListArchived(ctx, "VirtualHardDisk", "d0")
	require.NoError(t, err)
	entries := pages[0].Entries
	last := entries[len(entries)-1]
	assert.Equal(t, ir.OpDelete, last.Op)
	require.NotNil(t, last.Before)
	assert.Equal(t, "d0", last.Before.Data["name"])
}

func TestList(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema, testutil.VmHostSchemaV1)

	for _, name := range []string{"d2", "D1", "d10"} {
		_, err := svc.Create(ctx, disk(name, nil))
		require.NoError(t, err)
	}
	ids, err := svc.List(ctx, "VirtualHardDisk")
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "d10", "d2"}, ids)

	types, err := svc.List(ctx, ir.SchemaType)
	require.NoError(t, err)
	assert.Equal(t, []string{"VirtualHardDisk", "VmHost"}, types)

	_, err = svc.List(ctx, "Nope")
	assert.True(t, ir.IsNotFound(err))
}

func TestRegisterSchema(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VmHostSchemaV1)

	t.Run("same document again is accepted", func(t *testing.T) {
		register(t, svc, testutil.VmHostSchemaV1)
		pages, err := svc.Journal().ListArchived(ctx, ir.SchemaType, "VmHost")
		require.NoError(t, err)
		assert.Len(t, pages[0].Entries, 1)
	})

	t.Run("upgrade journals an update", func(t *testing.T) {
		register(t, svc, testutil.VmHostSchemaV2)
		rec, err := svc.Read(ctx, ir.SchemaType, "VmHost")
		require.NoError(t, err)
		assert.Equal(t, "0.0.2", rec.Version)

		pages, err := svc.Journal().ListArchived(ctx, ir.SchemaType, "VmHost")
		require.NoError(t, err)
		entries := pages[0].Entries
		assert.Equal(t, ir.OpUpdate, entries[len(entries)-1].Op)
	})

	t.Run("older version stays readable", func(t *testing.T) {
		sch, err := svc.Schema("VmHost", "0.0.1")
		require.NoError(t, err)
		assert.Equal(t, "0.0.1", sch.Version)
	})

	t.Run("archived version pushed again is accepted", func(t *testing.T) {
		register(t, svc, testutil.VmHostSchemaV1)
		rec, err := svc.Read(ctx, ir.SchemaType, "VmHost")
		require.NoError(t, err)
		assert.Equal(t, "0.0.2", rec.Version)
	})

	t.Run("nil document", func(t *testing.T) {
		_, err := svc.RegisterSchema(ctx, nil)
		assert.True(t, ir.IsCode(err, ir.CodeValidationFailed))
	})
}

func TestNew_ReloadsSchemas(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, "reload.db")

	svc, err := New(ctx, st)
	require.NoError(t, err)
	register(t, svc, testutil.VmHostSchemaV1, testutil.VmHostSchemaV2)
	svc.Close()

	reopened, err := New(ctx, st)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, []string{"0.0.1", "0.0.2"}, reopened.Catalog().Versions("VmHost"))
}

func TestConcurrentCreatesOfDistinctKeys(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, disk(string(rune('a'+i)), nil))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	ids, err := svc.List(ctx, "VirtualHardDisk")
	require.NoError(t, err)
	assert.Len(t, ids, 20)
	assert.Zero(t, svc.locks.size())
}

func TestConcurrentPatchesOfOneKey(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	register(t, svc, testutil.VirtualHardDiskSchema, testutil.VmHostSchemaV1)

	const n = 30
	ids := make([]string, n)
	for i := range n {
		ids[i] = fmt.Sprintf("d%02d", i)
		_, err := svc.Create(ctx, disk(ids[i], nil))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, &ir.Record{Type: "VmHost", Data: map[string]any{"name": "h1"}})
	require.NoError(t, err)

	path := queryir.MustParsePath("virtualHardDisk")
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			_, errs[i] = svc.Patch(ctx, "VmHost", "h1", path, ids[i])
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rec, err := svc.Read(ctx, "VmHost", "h1")
	require.NoError(t, err)
	assert.ElementsMatch(t, toAny(ids), rec.Data["virtualHardDisk"])

	entries := 0
	for _, list := range []func(context.Context, string, string) ([]ir.JournalPage, error){
		svc.Journal().ListActive, svc.Journal().ListArchived,
	} {
		pages, err := list(ctx, "VmHost", "h1")
		require.NoError(t, err)
		for _, p := range pages {
			entries += len(p.Entries)
		}
	}
	assert.Equal(t, n+1, entries)
	assert.Zero(t, svc.locks.size())
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
