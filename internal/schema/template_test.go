package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
)

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate("vm-{name}-{zone}")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "zone"}, tmpl.Vars())
	assert.False(t, tmpl.IsSingleVar())
	assert.True(t, MustParseTemplate("{name}").IsSingleVar())

	for _, bad := range []string{"{", "}", "a}b{", "{}", "{a{b}}", "{a/b}"} {
		_, err := ParseTemplate(bad)
		assert.Error(t, err, "template %q", bad)
	}
}

func TestTemplate_Render(t *testing.T) {
	tmpl := MustParseTemplate("vm-{name}")

	got, err := tmpl.Render(map[string]any{"name": "web"})
	require.NoError(t, err)
	assert.Equal(t, "vm-web", got)

	_, err = tmpl.Render(map[string]any{"name": ""})
	assert.True(t, ir.IsCode(err, ir.CodeValidationFailed))

	_, err = tmpl.Render(map[string]any{"name": 3.0})
	assert.True(t, ir.IsCode(err, ir.CodeValidationFailed))
}

func TestParseIndexTemplate(t *testing.T) {
	it, err := ParseIndexTemplate("VirtualMachine/{owner}/storage[{alias}]/virtualDrive")
	require.NoError(t, err)
	assert.Equal(t, "VirtualMachine", it.Target)
	assert.Equal(t, []string{"owner", "alias"}, it.Vars())

	for _, bad := range []string{"VmHost/{host}", "{T}/{id}/x", "VmHost/host-{x}/list", "VmHost/{a}/{b"} {
		_, err := ParseIndexTemplate(bad)
		assert.Error(t, err, "indexTemplate %q", bad)
	}
}

func TestIndexTemplate_Render(t *testing.T) {
	it, err := ParseIndexTemplate("VirtualMachine/{owner}/storage[{alias}]/virtualDrive")
	require.NoError(t, err)

	target, err := it.Render(map[string]any{"owner": "vm-1", "alias": "data/0"})
	require.NoError(t, err)
	assert.Equal(t, "VirtualMachine", target.Type)
	assert.Equal(t, "vm-1", target.ID)
	require.Len(t, target.Path, 2)
	assert.Equal(t, "data/0", target.Path[0].Key, "selector values are escaped and decoded back")
	assert.Equal(t, "VirtualMachine/vm-1/storage[data%2F0]/virtualDrive", target.String())

	_, err = it.Render(map[string]any{"owner": "vm-1"})
	assert.True(t, ir.IsCode(err, ir.CodeValidationFailed), "missing variable means not indexed")
}

func TestIndexTemplate_RenderRejectsSlashInField(t *testing.T) {
	it, err := ParseIndexTemplate("T/{id}/{attr}")
	require.NoError(t, err)

	_, err = it.Render(map[string]any{"id": "x", "attr": "a/b"})
	assert.Error(t, err)
}
