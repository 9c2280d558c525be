package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/unitao/internal/ir"
)

// Mutation is a single-record change together with the journal entry that
// records it. Before is the stored record prior to the change (nil on
// create); After is the record to store (nil on delete).
//
// Schema, when set, is persisted in the same transaction. Schema
// registrations use it so the schemas table and the "schema" record never
// diverge.
type Mutation struct {
	Op     ir.Op
	Before *ir.Record
	After  *ir.Record
	Schema *SchemaRow
}

func (m Mutation) key() (ir.Key, error) {
	switch m.Op {
	case ir.OpCreate:
		if m.After == nil {
			return ir.Key{}, fmt.Errorf("create mutation without record")
		}
		return m.After.Key(), nil
	case ir.OpUpdate, ir.OpPatch:
		if m.After == nil || m.Before == nil {
			return ir.Key{}, fmt.Errorf("%s mutation needs before and after", m.Op)
		}
		if m.After.Key() != m.Before.Key() {
			return ir.Key{}, fmt.Errorf("%s mutation changes key %s to %s", m.Op, m.Before.Key(), m.After.Key())
		}
		return m.After.Key(), nil
	case ir.OpDelete:
		if m.Before == nil {
			return ir.Key{}, fmt.Errorf("delete mutation without record")
		}
		return m.Before.Key(), nil
	default:
		return ir.Key{}, fmt.Errorf("unknown op %q", m.Op)
	}
}

// Commit applies m and appends its journal entry atomically.
//
// Every registered consumer is marked pending on the new entry. With no
// consumers registered the entry is archived immediately.
//
// Returns CONFLICT when creating an existing key and NOT_FOUND when
// updating or deleting a missing one.
func (s *Store) Commit(ctx context.Context, m Mutation) (*ir.JournalEntry, error) {
	key, err := m.key()
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("commit %s: begin: %w", key, err)
	}
	defer tx.Rollback()

	switch m.Op {
	case ir.OpCreate:
		err = insertRecord(ctx, tx, m.After)
	case ir.OpUpdate, ir.OpPatch:
		err = updateRecord(ctx, tx, m.After)
	case ir.OpDelete:
		err = deleteRecord(ctx, tx, key)
	}
	if err != nil {
		return nil, err
	}

	if m.Schema != nil {
		if err := insertSchema(ctx, tx, *m.Schema); err != nil {
			return nil, err
		}
	}

	entry, err := appendEntry(ctx, tx, key, m)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", key, err)
	}
	return entry, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r *ir.Record) error {
	data, digest, err := encodeRecord(r)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (data_type, data_id, version, data, digest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(data_type, data_id) DO NOTHING
	`, r.Type, r.ID, r.Version, data, digest)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.Key(), err)
	}
	if n == 0 {
		return ir.Conflict("record %s already exists", r.Key())
	}
	return nil
}

func updateRecord(ctx context.Context, tx *sql.Tx, r *ir.Record) error {
	data, digest, err := encodeRecord(r)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE records SET version = ?, data = ?, digest = ?
		WHERE data_type = ? AND data_id = ?
	`, r.Version, data, digest, r.Type, r.ID)
	if err != nil {
		return fmt.Errorf("update record %s: %w", r.Key(), err)
	}
	return requireRow(res, r.Key())
}

func deleteRecord(ctx context.Context, tx *sql.Tx, key ir.Key) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM records WHERE data_type = ? AND data_id = ?
	`, key.Type, key.ID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return requireRow(res, key)
}

func requireRow(res sql.Result, key ir.Key) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	if n == 0 {
		return ir.NotFound("record %s not found", key)
	}
	return nil
}

func encodeRecord(r *ir.Record) (data, digest string, err error) {
	data, err = marshalData(r.Data)
	if err != nil {
		return "", "", fmt.Errorf("encode record %s: %w", r.Key(), err)
	}
	digest, err = ir.RecordDigest(r)
	if err != nil {
		return "", "", fmt.Errorf("encode record %s: %w", r.Key(), err)
	}
	return data, digest, nil
}

// GetRecord returns the current record for (typ, id), or NOT_FOUND.
func (s *Store) GetRecord(ctx context.Context, typ, id string) (*ir.Record, error) {
	var version, data string
	err := s.db.QueryRowContext(ctx, `
		SELECT version, data FROM records
		WHERE data_type = ? AND data_id = ?
	`, typ, id).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ir.NotFound("record %s/%s not found", typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", typ, id, err)
	}
	obj, err := unmarshalData(data)
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", typ, id, err)
	}
	return &ir.Record{ID: id, Type: typ, Version: version, Data: obj}, nil
}

// HasRecord reports whether (typ, id) exists.
func (s *Store) HasRecord(ctx context.Context, typ, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM records WHERE data_type = ? AND data_id = ?
	`, typ, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has record %s/%s: %w", typ, id, err)
	}
	return true, nil
}

// ListRecordIDs returns the ids stored under typ in binary order.
func (s *Store) ListRecordIDs(ctx context.Context, typ string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_id FROM records
		WHERE data_type = ?
		ORDER BY data_id COLLATE BINARY
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", typ, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list records %s: %w", typ, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records %s: %w", typ, err)
	}
	return ids, nil
}

// ListRecords returns every record stored under typ in id order.
func (s *Store) ListRecords(ctx context.Context, typ string) ([]*ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_id, version, data FROM records
		WHERE data_type = ?
		ORDER BY data_id COLLATE BINARY
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", typ, err)
	}
	defer rows.Close()

	var out []*ir.Record
	for rows.Next() {
		var id, version, data string
		if err := rows.Scan(&id, &version, &data); err != nil {
			return nil, fmt.Errorf("list records %s: %w", typ, err)
		}
		obj, err := unmarshalData(data)
		if err != nil {
			return nil, fmt.Errorf("list records %s: %w", typ, err)
		}
		out = append(out, &ir.Record{ID: id, Type: typ, Version: version, Data: obj})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records %s: %w", typ, err)
	}
	return out, nil
}
