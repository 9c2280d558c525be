package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/unitao/internal/ir"
)

// marshalData converts record data to canonical JSON TEXT for storage.
func marshalData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := ir.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

func unmarshalData(text string) (map[string]any, error) {
	data := map[string]any{}
	if text == "" || text == "{}" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return data, nil
}

// marshalRecord converts an optional record to a nullable canonical JSON column.
func marshalRecord(r *ir.Record) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := ir.MarshalCanonical(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal record: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalRecord(ns sql.NullString) (*ir.Record, error) {
	if !ns.Valid {
		return nil, nil
	}
	var r ir.Record
	if err := json.Unmarshal([]byte(ns.String), &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	return &r, nil
}
