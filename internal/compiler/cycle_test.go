package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/testutil"
)

func docs(t *testing.T, srcs ...string) []*schema.Document {
	t.Helper()
	out := make([]*schema.Document, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, mustDoc(t, src))
	}
	return out
}

// refType declares a type with the given reference fields; a field name
// ending in "?" is optional.
func refType(id string, refs map[string]string) string {
	props := `"name": {"type": "string"}`
	for field, target := range refs {
		required := "true"
		if field[len(field)-1] == '?' {
			field = field[:len(field)-1]
			required = "false"
		}
		props += `, "` + field + `": {"type": "string", "required": ` + required + `, "contentMediaType": "inventory/` + target + `"}`
	}
	return `{"id": "` + id + `", "version": "0.0.1", "keyTemplate": "{name}", "properties": {` + props + `}}`
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
}

func TestAnalyzeCycles_FixturesAreAcyclic(t *testing.T) {
	warnings := AnalyzeCycles(docs(t,
		testutil.VirtualHardDiskSchema,
		testutil.VmHostSchemaV2,
		testutil.VirtualMachineSchema,
	))
	assert.Empty(t, warnings)
}

func TestAnalyzeCycles_TwoNodeCycle(t *testing.T) {
	warnings := AnalyzeCycles(docs(t,
		refType("A", map[string]string{"b": "B"}),
		refType("B", map[string]string{"a": "A"}),
	))
	require.Len(t, warnings, 1)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Equal(t, []string{"A", "B", "A"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "A → B → A")
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	warnings := AnalyzeCycles(docs(t, refType("Node", map[string]string{"parent": "Node"})))
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Node", "Node"}, warnings[0].Path)
}

func TestAnalyzeCycles_OptionalReferenceBreaksCycle(t *testing.T) {
	warnings := AnalyzeCycles(docs(t,
		refType("A", map[string]string{"b": "B"}),
		refType("B", map[string]string{"a?": "A"}),
		refType("Node", map[string]string{"parent?": "Node"}),
	))
	assert.Empty(t, warnings)
}

func TestAnalyzeCycles_ThroughRequiredNestedObject(t *testing.T) {
	a := `{
  "id": "A", "version": "0.0.1", "keyTemplate": "{name}",
  "properties": {
    "name": {"type": "string"},
    "spec": {"type": "object", "ref": "spec"}
  },
  "definitions": {
    "spec": {"properties": {"peer": {"type": "string", "contentMediaType": "inventory/B"}}}
  }
}`
	warnings := AnalyzeCycles(docs(t, a, refType("B", map[string]string{"a": "A"})))
	require.Len(t, warnings, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, warnings[0].Path[:2])
}

func TestAnalyzeCycles_CollectionsImposeNoDependency(t *testing.T) {
	a := `{
  "id": "A", "version": "0.0.1", "keyTemplate": "{name}",
  "properties": {
    "name": {"type": "string"},
    "bs": {"type": "array", "items": {"type": "string", "contentMediaType": "inventory/B"}}
  }
}`
	warnings := AnalyzeCycles(docs(t, a, refType("B", map[string]string{"a": "A"})))
	assert.Empty(t, warnings)
}

func TestAnalyzeCycles_UndeclaredTargets(t *testing.T) {
	warnings := AnalyzeCycles(docs(t, testutil.VirtualMachineSchema))
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Equal(t, "info", w.Level)
	}
	assert.Equal(t, []string{"VirtualMachine", "VirtualHardDisk"}, warnings[0].Path)
	assert.Equal(t, []string{"VirtualMachine", "VmHost"}, warnings[1].Path)
}

func TestAnalyzeCycles_UsesLatestVersion(t *testing.T) {
	v1 := refType("A", map[string]string{"b": "B"})
	v2 := `{"id": "A", "version": "0.0.2", "keyTemplate": "{name}", "properties": {
  "name": {"type": "string"},
  "b": {"type": "string", "contentMediaType": "inventory/B"},
  "c": {"type": "string", "required": false}
}}`
	warnings := AnalyzeCycles(docs(t, v1, v2, refType("B", map[string]string{"a": "A"})))
	require.Len(t, warnings, 1)
	assert.Equal(t, "warning", warnings[0].Level)

	// A broken document is skipped.
	warnings = AnalyzeCycles(docs(t, `{"id": "A", "version": "x", "keyTemplate": "{name}", "properties": {}}`))
	assert.Empty(t, warnings)
}
