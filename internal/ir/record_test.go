package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageID_RoundTrip(t *testing.T) {
	id := PageID("VirtualMachine", "vm_srv_01", 3)
	assert.Equal(t, "dataType:VirtualMachine_dataId:vm_srv_01_page:3", id)

	dt, di, page, err := ParsePageID(id)
	require.NoError(t, err)
	assert.Equal(t, "VirtualMachine", dt)
	assert.Equal(t, "vm_srv_01", di)
	assert.Equal(t, 3, page)
}

func TestParsePageID_Invalid(t *testing.T) {
	for _, bad := range []string{"", "VirtualMachine", "dataType:T_page:1", "dataType:T_dataId:x_page:a", "dataType:_dataId:x_page:1"} {
		_, _, _, err := ParsePageID(bad)
		assert.True(t, IsCode(err, CodeBadRequest), "page id %q", bad)
	}
}

func TestJournalEntry_Payload(t *testing.T) {
	before := &Record{ID: "a"}
	after := &Record{ID: "b"}

	assert.Same(t, after, (&JournalEntry{Before: before, After: after}).Payload())
	assert.Same(t, before, (&JournalEntry{Before: before}).Payload())
}

func TestRecordClone_Deep(t *testing.T) {
	r := &Record{ID: "x", Data: map[string]any{"list": []any{"a"}, "obj": map[string]any{"k": "v"}}}
	c := r.Clone()

	c.Data["list"].([]any)[0] = "changed"
	c.Data["obj"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", r.Data["list"].([]any)[0])
	assert.Equal(t, "v", r.Data["obj"].(map[string]any)["k"])
}

func TestEqualValues_NumberForms(t *testing.T) {
	assert.True(t, EqualValues(map[string]any{"n": 1}, map[string]any{"n": 1.0}))
	assert.False(t, EqualValues([]any{"a"}, []any{"b"}))
}
