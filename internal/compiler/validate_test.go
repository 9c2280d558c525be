package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/testutil"
)

func mustDoc(t *testing.T, src string) *schema.Document {
	t.Helper()
	doc, err := schema.ParseDocument([]byte(src))
	require.NoError(t, err)
	return doc
}

func TestValidate_ValidSet(t *testing.T) {
	docs := []*schema.Document{
		mustDoc(t, testutil.VirtualHardDiskSchema),
		mustDoc(t, testutil.VmHostSchemaV1),
		mustDoc(t, testutil.VmHostSchemaV2),
		mustDoc(t, testutil.VirtualMachineSchema),
	}
	assert.Empty(t, Validate(docs))
}

func TestValidate_Errors(t *testing.T) {
	v1 := testutil.VmHostSchemaV1
	v2 := testutil.VmHostSchemaV2
	dropField := `{
  "id": "VmHost", "version": "0.0.3", "keyTemplate": "{name}",
  "properties": {"name": {"type": "string"}}
}`

	tests := []struct {
		name      string
		docs      []string
		wantCode  string
		wantField string
	}{
		{"does not compile", []string{`{"id": "T", "version": "0.0.1", "properties": {}}`}, ErrSchemaInvalid, "schema.T@0.0.1.keyTemplate"},
		{"reserved id", []string{`{"id": "cmtIdx", "version": "0.0.1", "keyTemplate": "{n}", "properties": {"n": {"type": "string"}}}`}, ErrSchemaInvalid, "schema.cmtIdx@0.0.1.id"},
		{"duplicate version", []string{v1, v1}, ErrDuplicateVersion, "schema.VmHost@0.0.1"},
		{"descending versions", []string{v2, v1}, ErrVersionOrder, "schema.VmHost@0.0.1"},
		{"removed field", []string{v2, dropField}, ErrIncompatibleUpdate, "schema.VmHost@0.0.3.virtualHardDisk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var docs []*schema.Document
			for _, src := range tt.docs {
				docs = append(docs, mustDoc(t, src))
			}
			errs := Validate(docs)
			require.Len(t, errs, 1, "%v", errs)
			assert.Equal(t, tt.wantCode, errs[0].Code)
			assert.Equal(t, tt.wantField, errs[0].Field)
			assert.NotEmpty(t, errs[0].Message)
			assert.Contains(t, errs[0].Error(), "["+tt.wantCode+"]")
		})
	}
}

func TestValidate_NilDocument(t *testing.T) {
	errs := Validate([]*schema.Document{nil})
	require.Len(t, errs, 1)
	assert.Equal(t, "schemas[0]", errs[0].Field)
	assert.Equal(t, ErrSchemaInvalid, errs[0].Code)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	errs := Validate([]*schema.Document{
		mustDoc(t, testutil.VmHostSchemaV1),
		mustDoc(t, testutil.VmHostSchemaV1),
		mustDoc(t, `{"id": "X", "version": "bad", "keyTemplate": "{n}", "properties": {"n": {"type": "string"}}}`),
	})
	require.Len(t, errs, 2)
	assert.Equal(t, ErrDuplicateVersion, errs[0].Code)
	assert.Equal(t, ErrSchemaInvalid, errs[1].Code)
}
