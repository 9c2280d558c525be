package traverse

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/testutil"
)

type memSource struct {
	schemas map[string]*schema.Schema
	records map[ir.Key]*ir.Record
	block   map[string]bool
}

func (m *memSource) Schema(_ context.Context, typ, _ string) (*schema.Schema, error) {
	s, ok := m.schemas[typ]
	if !ok {
		return nil, ir.NotFound("schema %s not found", typ)
	}
	return s, nil
}

func (m *memSource) Record(ctx context.Context, typ, id string) (*ir.Record, error) {
	if m.block[typ] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r, ok := m.records[ir.Key{Type: typ, ID: id}]
	if !ok {
		return nil, ir.NotFound("record %s/%s not found", typ, id)
	}
	return r.Clone(), nil
}

func (m *memSource) put(typ string, data map[string]any) {
	id := data["name"].(string)
	m.records[ir.Key{Type: typ, ID: id}] = &ir.Record{ID: id, Type: typ, Version: m.schemas[typ].Version, Data: data}
}

func compile(t *testing.T, doc string) *schema.Schema {
	t.Helper()
	s, err := schema.CompileJSON([]byte(doc))
	require.NoError(t, err)
	return s
}

func setupSource(t *testing.T) *memSource {
	t.Helper()
	src := &memSource{
		schemas: map[string]*schema.Schema{
			"VirtualMachine":  compile(t, testutil.VirtualMachineSchema),
			"VirtualHardDisk": compile(t, testutil.VirtualHardDiskSchema),
			"VmHost":          compile(t, testutil.VmHostSchemaV2),
		},
		records: map[ir.Key]*ir.Record{},
		block:   map[string]bool{},
	}
	src.put("VirtualMachine", map[string]any{
		"name": "vm1",
		"host": "h1",
		"storage": []any{
			map[string]any{"name": "disk0", "vhd": "d0"},
			map[string]any{"name": "disk1", "vhd": "gone"},
		},
		"network": []any{
			map[string]any{"name": "eth0", "mac": "aa:bb"},
		},
		"labels": map[string]any{"zone": "b", "tier": "a"},
	})
	src.put("VirtualHardDisk", map[string]any{"name": "d0", "size": 10.0})
	src.put("VmHost", map[string]any{"name": "h1", "virtualHardDisk": []any{"d0"}})
	return src
}

func query(t *testing.T, path string, mods ...string) queryir.Query {
	t.Helper()
	values := url.Values{}
	for _, m := range mods {
		values.Set(m, "true")
	}
	q, err := queryir.ParseQuery(path, values)
	require.NoError(t, err)
	return q
}

func TestResolve_Record(t *testing.T) {
	r := New(setupSource(t))

	res, err := r.Resolve(context.Background(), "VirtualHardDisk", "d0", query(t, ""))
	require.NoError(t, err)
	assert.False(t, res.FanOut)
	rec, ok := res.Value.(*ir.Record)
	require.True(t, ok)
	assert.Equal(t, "d0", rec.ID)
	assert.Equal(t, 10.0, rec.Data["size"])
}

func TestResolve_MissingStartRecord(t *testing.T) {
	r := New(setupSource(t))
	_, err := r.Resolve(context.Background(), "VmHost", "nope", query(t, "name"))
	assert.True(t, ir.IsCode(err, ir.CodeNotFound), "got %v", err)
}

func TestResolve_FollowsReferenceAcrossRecords(t *testing.T) {
	r := New(setupSource(t))
	ctx := context.Background()

	res, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "storage[disk0]/vhd/size"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Value)

	res, err = r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "host/virtualHardDisk[d0]/name"))
	require.NoError(t, err)
	assert.Equal(t, "d0", res.Value)
}

func TestResolve_TerminalReference(t *testing.T) {
	r := New(setupSource(t))
	ctx := context.Background()

	res, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "storage[disk0]/vhd"))
	require.NoError(t, err)
	rec, ok := res.Value.(*ir.Record)
	require.True(t, ok, "terminal reference resolves to the record")
	assert.Equal(t, "VirtualHardDisk", rec.Type)

	res, err = r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "storage[disk0]/vhd", "ref"))
	require.NoError(t, err)
	assert.Equal(t, "d0", res.Value)
}

func TestResolve_PathNotFoundNamesFirstFailingSegment(t *testing.T) {
	r := New(setupSource(t))
	ctx := context.Background()

	tests := []struct {
		path string
		want string
	}{
		{"network[eth9]/mac", "network[eth9]"},
		{"nosuch/field", "nosuch"},
		{"storage[disk1]/vhd/size", "storage[disk1]/vhd"},
		{"name/deeper", "name/deeper"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, tt.path))
			require.True(t, ir.IsCode(err, ir.CodePathNotFound), "got %v", err)
			var e *ir.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.want, e.Path)
		})
	}
}

func TestResolve_WildcardReportsPerBranch(t *testing.T) {
	r := New(setupSource(t))

	res, err := r.Resolve(context.Background(), "VirtualMachine", "vm1", query(t, "storage[*]/vhd/size"))
	require.NoError(t, err)
	require.True(t, res.FanOut)
	require.Len(t, res.Branches, 2)

	assert.Equal(t, "storage[disk0]/vhd/size", res.Branches[0].Path)
	assert.Equal(t, 10.0, res.Branches[0].Value)
	assert.Nil(t, res.Branches[0].Error)

	assert.Equal(t, "storage[disk1]/vhd", res.Branches[1].Path)
	require.NotNil(t, res.Branches[1].Error)
	assert.Equal(t, ir.CodePathNotFound, res.Branches[1].Error.Code)
}

func TestResolve_WildcardOverMapIsSorted(t *testing.T) {
	r := New(setupSource(t))

	res, err := r.Resolve(context.Background(), "VirtualMachine", "vm1", query(t, "labels[*]"))
	require.NoError(t, err)
	require.Len(t, res.Branches, 2)
	assert.Equal(t, "labels[tier]", res.Branches[0].Path)
	assert.Equal(t, "a", res.Branches[0].Value)
	assert.Equal(t, "labels[zone]", res.Branches[1].Path)
}

func TestResolve_Iterator(t *testing.T) {
	r := New(setupSource(t))
	ctx := context.Background()

	for _, path := range []string{"storage", "storage[*]"} {
		res, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, path, "iterator"))
		require.NoError(t, err, path)
		assert.False(t, res.FanOut, path)
		assert.Equal(t, []string{"disk0", "disk1"}, res.Value, path)
	}

	_, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "name", "iterator"))
	assert.True(t, ir.IsCode(err, ir.CodeBadRequest))
}

func TestResolve_Flat(t *testing.T) {
	r := New(setupSource(t))
	ctx := context.Background()

	res, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "", "flat"))
	require.NoError(t, err)
	rec := res.Value.(*ir.Record)
	assert.Equal(t, map[string]any{"name": "vm1", "host": "h1"}, rec.Data)

	res, err = r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "storage", "flat"))
	require.NoError(t, err)
	assert.Equal(t, []string{"disk0", "disk1"}, res.Value)
}

func TestResolve_Schema(t *testing.T) {
	src := setupSource(t)
	r := New(src)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "labels", "schema"))
	require.NoError(t, err)
	desc := res.Value.(map[string]any)
	assert.Equal(t, "map", desc["type"])
	assert.Equal(t, false, desc["required"])

	res, err = r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "storage[disk0]/vhd", "schema"))
	require.NoError(t, err)
	assert.Equal(t, src.schemas["VirtualHardDisk"].Doc, res.Value)

	res, err = r.Resolve(ctx, "VirtualMachine", "vm1", query(t, "storage[disk0]/vhd", "schema", "ref"))
	require.NoError(t, err)
	desc = res.Value.(map[string]any)
	assert.Equal(t, "inventory/VirtualHardDisk", desc["contentMediaType"])
}

func TestResolve_HopTimeoutIsUnavailable(t *testing.T) {
	src := setupSource(t)
	src.block["VirtualHardDisk"] = true
	r := New(src, WithHopTimeout(20*time.Millisecond))

	_, err := r.Resolve(context.Background(), "VirtualMachine", "vm1", query(t, "storage[disk0]/vhd/size"))
	assert.True(t, ir.IsCode(err, ir.CodeUnavailable), "got %v", err)

	res, err := r.Resolve(context.Background(), "VirtualMachine", "vm1", query(t, "storage[*]/vhd/size"))
	require.NoError(t, err)
	for _, b := range res.Branches {
		require.NotNil(t, b.Error)
		assert.Equal(t, ir.CodeUnavailable, b.Error.Code)
	}
}

func TestResolve_RejectsBadModifiers(t *testing.T) {
	r := New(setupSource(t))
	q := queryir.Query{Path: queryir.MustParsePath("storage"), Modifiers: queryir.Modifiers{Iterator: true, Flat: true}}
	_, err := r.Resolve(context.Background(), "VirtualMachine", "vm1", q)
	assert.True(t, ir.IsCode(err, ir.CodeBadRequest))
}
