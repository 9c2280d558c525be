package traverse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/testutil"
)

func TestLookup(t *testing.T) {
	sch := compile(t, testutil.VirtualMachineSchema)
	data := map[string]any{
		"name": "vm1",
		"storage": []any{
			map[string]any{"name": "disk0", "vhd": "d0", "virtualDrive": []any{"d7"}},
		},
		"network": []any{},
	}

	val, prop, err := Lookup(sch, data, queryir.MustParsePath("storage[disk0]/virtualDrive"))
	require.NoError(t, err)
	assert.Equal(t, []any{"d7"}, val)
	assert.Equal(t, schema.KindArray, prop.Kind())

	val, prop, err = Lookup(sch, data, nil)
	require.NoError(t, err)
	assert.Equal(t, data, val)
	assert.Equal(t, schema.KindObject, prop.Kind())

	_, _, err = Lookup(sch, data, queryir.MustParsePath("storage[disk9]/vhd"))
	require.True(t, ir.IsCode(err, ir.CodePathNotFound))
	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "storage[disk9]", e.Path)

	// References are not followed.
	_, _, err = Lookup(sch, data, queryir.MustParsePath("storage[disk0]/vhd/size"))
	assert.True(t, ir.IsCode(err, ir.CodePathNotFound))

	_, _, err = Lookup(sch, data, queryir.MustParsePath("storage[*]"))
	assert.True(t, ir.IsCode(err, ir.CodeBadRequest))
}

func TestElements(t *testing.T) {
	sch := compile(t, testutil.VirtualMachineSchema)
	storage, _ := sch.Root.Field("storage")
	labels, _ := sch.Root.Field("labels")

	els := Elements(storage, []any{
		map[string]any{"name": "b"},
		map[string]any{"name": "a"},
	})
	require.Len(t, els, 2)
	assert.Equal(t, "b", els[0].Key, "arrays keep their order")

	els = Elements(labels, map[string]any{"y": "1", "x": "2"})
	require.Len(t, els, 2)
	assert.Equal(t, "x", els[0].Key, "maps iterate sorted")

	item, ok := FindItem(labels, map[string]any{"x": "2"}, "x")
	assert.True(t, ok)
	assert.Equal(t, "2", item)

	_, ok = FindItem(storage, []any{map[string]any{"name": "a"}}, "z")
	assert.False(t, ok)
}

func TestDescribe_ObjectIsShallow(t *testing.T) {
	sch := compile(t, testutil.VirtualMachineSchema)
	storage, _ := sch.Root.Field("storage")

	desc := Describe(storage)
	items := desc["items"].(map[string]any)
	assert.Equal(t, "object", items["type"])
	assert.Equal(t, "storage", items["ref"])
	assert.Equal(t, "{name}", items["keyTemplate"])

	props := items["properties"].(map[string]any)
	drive := props["virtualDrive"].(map[string]any)
	driveItems := drive["items"].(map[string]any)
	assert.Equal(t, "VirtualMachine/{owner}/storage[{alias}]/virtualDrive", driveItems["indexTemplate"])
}
