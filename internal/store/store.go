package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragmas are applied to every connection opened by the store.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
}

// migrations upgrade databases created by older releases. schema.sql always
// describes the latest layout, so a new database runs every step as a no-op
// and ends at the last version.
var migrations = []struct {
	version int
	stmt    string
}{
	{1, `CREATE INDEX IF NOT EXISTS idx_journal_entries_commit ON journal_entries(commit_seq)`},
}

// currentSchemaVersion is the user_version of a fully migrated database.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store is the SQLite persistence of one data service: schemas, records,
// the change journal and the CmtIndex registry.
//
// The pool holds a single connection. Writes are serialized by SQLite
// anyway, and ":memory:" databases exist per connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and brings its layout up to
// date. path may be ":memory:".
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initialize(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("set user_version %d: %w", m.version, err)
		}
	}
	return nil
}
