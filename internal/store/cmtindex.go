package store

import (
	"context"
	"fmt"
)

// IndexEntry records that SourceID was inserted at Path inside the target
// record (TargetType, TargetID) by CmtIndex.
type IndexEntry struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	Path       string `json:"path"`
	SourceType string `json:"sourceType"`
	SourceID   string `json:"sourceId"`
}

// SubscriptionRow is one persisted CmtIndex subscription of a target type.
type SubscriptionRow struct {
	TargetType string `json:"targetType"`
	Attr       string `json:"attrPath"`
	Template   string `json:"template"`
	SourceType string `json:"sourceType"`
	Version    string `json:"version"`
}

func (r SubscriptionRow) ident() string {
	return r.TargetType + "\x00" + r.Attr + "\x00" + r.Template
}

// AddIndexEntry upserts a registry row.
func (s *Store) AddIndexEntry(ctx context.Context, e IndexEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cmt_registry (target_type, target_id, path, source_type, source_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, e.TargetType, e.TargetID, e.Path, e.SourceType, e.SourceID)
	if err != nil {
		return fmt.Errorf("add index entry: %w", err)
	}
	return nil
}

// RemoveIndexEntry deletes a registry row. Removing a missing row is a no-op.
func (s *Store) RemoveIndexEntry(ctx context.Context, e IndexEntry) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cmt_registry
		WHERE target_type = ? AND target_id = ? AND path = ? AND source_type = ? AND source_id = ?
	`, e.TargetType, e.TargetID, e.Path, e.SourceType, e.SourceID)
	if err != nil {
		return fmt.Errorf("remove index entry: %w", err)
	}
	return nil
}

// RemoveIndexTarget drops every registry row of one target record.
func (s *Store) RemoveIndexTarget(ctx context.Context, targetType, targetID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cmt_registry WHERE target_type = ? AND target_id = ?
	`, targetType, targetID)
	if err != nil {
		return fmt.Errorf("remove index target %s/%s: %w", targetType, targetID, err)
	}
	return nil
}

// IndexEntriesBySource returns the registry rows naming one source record.
func (s *Store) IndexEntriesBySource(ctx context.Context, sourceType, sourceID string) ([]IndexEntry, error) {
	return s.queryIndex(ctx, "source_type = ? AND source_id = ?", sourceType, sourceID)
}

// IndexEntries returns the registry rows of one target type.
func (s *Store) IndexEntries(ctx context.Context, targetType string) ([]IndexEntry, error) {
	return s.queryIndex(ctx, "target_type = ?", targetType)
}

func (s *Store) queryIndex(ctx context.Context, where string, args ...any) ([]IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_type, target_id, path, source_type, source_id
		FROM cmt_registry
		WHERE `+where+`
		ORDER BY target_type COLLATE BINARY, target_id COLLATE BINARY,
		         path COLLATE BINARY, source_type COLLATE BINARY, source_id COLLATE BINARY
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	out := []IndexEntry{}
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.TargetType, &e.TargetID, &e.Path, &e.SourceType, &e.SourceID); err != nil {
			return nil, fmt.Errorf("query index: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceSubscriptions stores subs as the complete subscription set of
// targetType and returns the rows that were not stored before.
func (s *Store) ReplaceSubscriptions(ctx context.Context, targetType string, subs []SubscriptionRow) ([]SubscriptionRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("replace subscriptions %s: %w", targetType, err)
	}
	defer tx.Rollback()

	existing, err := querySubscriptions(ctx, tx, "target_type = ?", targetType)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.ident()] = true
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cmt_subscriptions WHERE target_type = ?`, targetType); err != nil {
		return nil, fmt.Errorf("replace subscriptions %s: %w", targetType, err)
	}

	var added []SubscriptionRow
	for _, r := range subs {
		if r.TargetType != targetType {
			return nil, fmt.Errorf("replace subscriptions %s: row targets %s", targetType, r.TargetType)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cmt_subscriptions (target_type, attr, template, source_type, version)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, r.TargetType, r.Attr, r.Template, r.SourceType, r.Version); err != nil {
			return nil, fmt.Errorf("replace subscriptions %s: %w", targetType, err)
		}
		if !seen[r.ident()] {
			seen[r.ident()] = true
			added = append(added, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("replace subscriptions %s: %w", targetType, err)
	}
	return added, nil
}

// Subscriptions returns the stored subscriptions of targetType, or of every
// target type when targetType is empty.
func (s *Store) Subscriptions(ctx context.Context, targetType string) ([]SubscriptionRow, error) {
	if targetType == "" {
		return querySubscriptions(ctx, s.db, "1 = 1")
	}
	return querySubscriptions(ctx, s.db, "target_type = ?", targetType)
}

func querySubscriptions(ctx context.Context, q queryer, where string, args ...any) ([]SubscriptionRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT target_type, attr, template, source_type, version
		FROM cmt_subscriptions
		WHERE `+where+`
		ORDER BY target_type COLLATE BINARY, attr COLLATE BINARY, template COLLATE BINARY
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	out := []SubscriptionRow{}
	for rows.Next() {
		var r SubscriptionRow
		if err := rows.Scan(&r.TargetType, &r.Attr, &r.Template, &r.SourceType, &r.Version); err != nil {
			return nil, fmt.Errorf("query subscriptions: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IndexTargetTypes lists the target types that have subscriptions or
// registry rows, sorted.
func (s *Store) IndexTargetTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_type FROM cmt_subscriptions
		UNION
		SELECT target_type FROM cmt_registry
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("index target types: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("index target types: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
