package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaRow is one persisted schema version. Document holds the JSON
// document as registered, with property order preserved.
type SchemaRow struct {
	Type     string
	Version  string
	Document []byte
	Digest   string
}

func insertSchema(ctx context.Context, tx *sql.Tx, row SchemaRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO schemas (data_type, version, document, digest)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(data_type, version) DO UPDATE SET
			document = excluded.document,
			digest = excluded.digest
	`, row.Type, row.Version, string(row.Document), row.Digest)
	if err != nil {
		return fmt.Errorf("insert schema %s@%s: %w", row.Type, row.Version, err)
	}
	return nil
}

// LoadSchemas returns every persisted schema version in registration order.
func (s *Store) LoadSchemas(ctx context.Context) ([]SchemaRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_type, version, document, digest FROM schemas
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	defer rows.Close()

	var out []SchemaRow
	for rows.Next() {
		var row SchemaRow
		var doc string
		if err := rows.Scan(&row.Type, &row.Version, &doc, &row.Digest); err != nil {
			return nil, fmt.Errorf("load schemas: %w", err)
		}
		row.Document = []byte(doc)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return out, nil
}
