package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/unitao/internal/ir"
)

// JournalKey summarizes the entries recorded for one (type, id).
type JournalKey struct {
	ir.Key
	Active   int `json:"active"`
	Archived int `json:"archived"`
	LastPage int `json:"lastPage"`
}

// appendEntry assigns the next (page, seq) for key and inserts the entry
// with a pending status for every registered consumer.
func appendEntry(ctx context.Context, tx *sql.Tx, key ir.Key, m Mutation) (*ir.JournalEntry, error) {
	page, seq, err := nextPosition(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	var commitSeq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(commit_seq), 0) + 1 FROM journal_entries
	`).Scan(&commitSeq); err != nil {
		return nil, fmt.Errorf("append %s: commit seq: %w", key, err)
	}

	consumers, err := listConsumers(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", key, err)
	}

	entry := &ir.JournalEntry{
		DataType:  key.Type,
		DataID:    key.ID,
		Page:      page,
		Seq:       seq,
		Op:        m.Op,
		Before:    m.Before.Clone(),
		After:     m.After.Clone(),
		Consumers: make(map[string]ir.ConsumerStatus, len(consumers)),
		Archived:  len(consumers) == 0,
	}
	for _, c := range consumers {
		entry.Consumers[c] = ir.StatusPending
	}
	entry.Digest, err = ir.EntryDigest(entry)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", key, err)
	}

	before, err := marshalRecord(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", key, err)
	}
	after, err := marshalRecord(entry.After)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO journal_entries
		(data_type, data_id, page, seq, op, before, after, digest, archived, commit_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, key.Type, key.ID, page, seq, string(m.Op), before, after, entry.Digest, entry.Archived, commitSeq); err != nil {
		return nil, fmt.Errorf("append %s: %w", key, err)
	}

	for _, c := range consumers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO journal_acks (data_type, data_id, page, seq, consumer, status)
			VALUES (?, ?, ?, ?, ?, ?)
		`, key.Type, key.ID, page, seq, c, string(ir.StatusPending)); err != nil {
			return nil, fmt.Errorf("append %s: consumer %s: %w", key, c, err)
		}
	}
	return entry, nil
}

// nextPosition returns the slot after the key's newest entry, starting a new
// page when the current one holds JournalPageSize entries.
func nextPosition(ctx context.Context, tx *sql.Tx, key ir.Key) (page, seq int, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT page, seq FROM journal_entries
		WHERE data_type = ? AND data_id = ?
		ORDER BY page DESC, seq DESC
		LIMIT 1
	`, key.Type, key.ID).Scan(&page, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("append %s: position: %w", key, err)
	}
	seq++
	if seq >= ir.JournalPageSize {
		page++
		seq = 0
	}
	return page, seq, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listConsumers(ctx context.Context, q queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM journal_consumers ORDER BY name COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("list consumers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list consumers: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RegisterConsumer adds a journal consumer. Entries appended afterwards are
// pending for it; earlier entries are not. Registering twice is a no-op.
func (s *Store) RegisterConsumer(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_consumers (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, name)
	if err != nil {
		return fmt.Errorf("register consumer %s: %w", name, err)
	}
	return nil
}

// Consumers returns the registered consumer names in binary order.
func (s *Store) Consumers(ctx context.Context) ([]string, error) {
	return listConsumers(ctx, s.db)
}

// Entries returns the entries of (typ, id) with the given archived state,
// ordered by (page, seq).
func (s *Store) Entries(ctx context.Context, typ, id string, archived bool) ([]*ir.JournalEntry, error) {
	return s.queryEntries(ctx,
		"e.data_type = ? AND e.data_id = ? AND e.archived = ?",
		"e.page, e.seq",
		typ, id, archived)
}

// PageEntries returns every entry on one page of (typ, id), active and
// archived, in seq order.
func (s *Store) PageEntries(ctx context.Context, typ, id string, page int) ([]*ir.JournalEntry, error) {
	return s.queryEntries(ctx,
		"e.data_type = ? AND e.data_id = ? AND e.page = ?",
		"e.seq",
		typ, id, page)
}

// PendingEntries returns entries still pending for consumer, ordered by key
// then (page, seq). limit <= 0 means no limit.
func (s *Store) PendingEntries(ctx context.Context, consumer string, limit int) ([]*ir.JournalEntry, error) {
	where := `e.archived = 0 AND EXISTS (
		SELECT 1 FROM journal_acks p
		WHERE p.data_type = e.data_type AND p.data_id = e.data_id
		  AND p.page = e.page AND p.seq = e.seq
		  AND p.consumer = ? AND p.status = 'pending')`
	entries, err := s.queryEntries(ctx, where,
		"e.data_type COLLATE BINARY, e.data_id COLLATE BINARY, e.page, e.seq",
		consumer)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GetEntry returns a single entry, or NOT_FOUND.
func (s *Store) GetEntry(ctx context.Context, typ, id string, page, seq int) (*ir.JournalEntry, error) {
	entries, err := s.queryEntries(ctx,
		"e.data_type = ? AND e.data_id = ? AND e.page = ? AND e.seq = ?",
		"e.seq",
		typ, id, page, seq)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ir.NotFound("journal entry %s/%s/%d-%d not found", typ, id, page, seq)
	}
	return entries[0], nil
}

// queryEntries loads entries and their consumer states in one query so the
// single connection is never held by two result sets.
func (s *Store) queryEntries(ctx context.Context, where, order string, args ...any) ([]*ir.JournalEntry, error) {
	query := `
		SELECT e.data_type, e.data_id, e.page, e.seq, e.op, e.before, e.after,
		       e.digest, e.archived, a.consumer, a.status
		FROM journal_entries e
		LEFT JOIN journal_acks a
		  ON a.data_type = e.data_type AND a.data_id = e.data_id
		 AND a.page = e.page AND a.seq = e.seq
		WHERE ` + where + `
		ORDER BY ` + order + `, a.consumer COLLATE BINARY`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var (
		out  []*ir.JournalEntry
		last *ir.JournalEntry
	)
	for rows.Next() {
		var (
			e              ir.JournalEntry
			op             string
			before, after  sql.NullString
			consumer, stat sql.NullString
		)
		if err := rows.Scan(&e.DataType, &e.DataID, &e.Page, &e.Seq, &op, &before, &after,
			&e.Digest, &e.Archived, &consumer, &stat); err != nil {
			return nil, fmt.Errorf("query journal: %w", err)
		}
		if last == nil || last.DataType != e.DataType || last.DataID != e.DataID ||
			last.Page != e.Page || last.Seq != e.Seq {
			e.Op = ir.Op(op)
			e.Consumers = map[string]ir.ConsumerStatus{}
			if e.Before, err = unmarshalRecord(before); err != nil {
				return nil, fmt.Errorf("query journal %s: %w", e.Ref(), err)
			}
			if e.After, err = unmarshalRecord(after); err != nil {
				return nil, fmt.Errorf("query journal %s: %w", e.Ref(), err)
			}
			entry := e
			last = &entry
			out = append(out, last)
		}
		if consumer.Valid {
			last.Consumers[consumer.String] = ir.ConsumerStatus(stat.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return out, nil
}

// JournalKeys lists every key with at least one entry, sorted by key.
func (s *Store) JournalKeys(ctx context.Context) ([]JournalKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_type, data_id,
		       SUM(CASE WHEN archived = 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN archived = 1 THEN 1 ELSE 0 END),
		       MAX(page)
		FROM journal_entries
		GROUP BY data_type, data_id
		ORDER BY data_type COLLATE BINARY, data_id COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("journal keys: %w", err)
	}
	defer rows.Close()

	out := []JournalKey{}
	for rows.Next() {
		var k JournalKey
		if err := rows.Scan(&k.Type, &k.ID, &k.Active, &k.Archived, &k.LastPage); err != nil {
			return nil, fmt.Errorf("journal keys: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Ack marks the entry done for consumer and archives it once no consumer
// is pending. Acking an archived or already-done entry is a no-op.
// Reports whether this call archived the entry.
func (s *Store) Ack(ctx context.Context, consumer, typ, id string, page, seq int) (bool, error) {
	ref := fmt.Sprintf("%s/%s/%d-%d", typ, id, page, seq)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("ack %s: begin: %w", ref, err)
	}
	defer tx.Rollback()

	var archived bool
	err = tx.QueryRowContext(ctx, `
		SELECT archived FROM journal_entries
		WHERE data_type = ? AND data_id = ? AND page = ? AND seq = ?
	`, typ, id, page, seq).Scan(&archived)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ir.NotFound("journal entry %s not found", ref)
	}
	if err != nil {
		return false, fmt.Errorf("ack %s: %w", ref, err)
	}
	if archived {
		return false, nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM journal_acks
		WHERE data_type = ? AND data_id = ? AND page = ? AND seq = ? AND consumer = ?
	`, typ, id, page, seq, consumer).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ir.NotFound("consumer %q is not tracked on journal entry %s", consumer, ref)
	}
	if err != nil {
		return false, fmt.Errorf("ack %s: %w", ref, err)
	}
	if ir.ConsumerStatus(status) == ir.StatusDone {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE journal_acks SET status = 'done'
		WHERE data_type = ? AND data_id = ? AND page = ? AND seq = ? AND consumer = ?
	`, typ, id, page, seq, consumer); err != nil {
		return false, fmt.Errorf("ack %s: %w", ref, err)
	}

	var pending int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM journal_acks
		WHERE data_type = ? AND data_id = ? AND page = ? AND seq = ? AND status = 'pending'
	`, typ, id, page, seq).Scan(&pending); err != nil {
		return false, fmt.Errorf("ack %s: %w", ref, err)
	}
	nowArchived := pending == 0
	if nowArchived {
		if _, err := tx.ExecContext(ctx, `
			UPDATE journal_entries SET archived = 1
			WHERE data_type = ? AND data_id = ? AND page = ? AND seq = ?
		`, typ, id, page, seq); err != nil {
			return false, fmt.Errorf("ack %s: archive: %w", ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ack %s: %w", ref, err)
	}
	return nowArchived, nil
}
