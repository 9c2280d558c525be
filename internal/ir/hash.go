package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix allows the
// algorithm to change without colliding with stored digests.
const (
	DomainRecord = "unitao/record/v1"
	DomainEntry  = "unitao/journal-entry/v1"
	DomainSchema = "unitao/schema/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordDigest computes the content digest of a record (type, id, version, data).
func RecordDigest(r *Record) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("RecordDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// EntryDigest computes the digest of a journal entry's identity and payload.
// Consumer state is excluded; it changes as consumers acknowledge.
func EntryDigest(e *JournalEntry) (string, error) {
	obj := map[string]any{
		"data_type": e.DataType,
		"data_id":   e.DataID,
		"page":      e.Page,
		"seq":       e.Seq,
		"op":        string(e.Op),
		"before":    recordOrNil(e.Before),
		"after":     recordOrNil(e.After),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EntryDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// SchemaDigest computes the digest of a raw schema document.
func SchemaDigest(doc map[string]any) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("SchemaDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}

func recordOrNil(r *Record) any {
	if r == nil {
		return nil
	}
	return r.tree()
}
