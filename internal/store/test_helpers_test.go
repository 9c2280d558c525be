package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/ir"
)

// createTestStore opens a fresh database under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(typ, id string, data map[string]any) *ir.Record {
	if data == nil {
		data = map[string]any{"name": id}
	}
	return &ir.Record{ID: id, Type: typ, Version: "0.0.1", Data: data}
}

// mustCreate stores rec through a create mutation.
func mustCreate(t *testing.T, s *Store, rec *ir.Record) *ir.JournalEntry {
	t.Helper()
	e, err := s.Commit(context.Background(), Mutation{Op: ir.OpCreate, After: rec})
	require.NoError(t, err)
	return e
}

// pragma reads the current value of a pragma.
func pragma(t *testing.T, s *Store, name string) string {
	t.Helper()
	var value string
	require.NoError(t, s.db.QueryRow("PRAGMA "+name).Scan(&value))
	return value
}
