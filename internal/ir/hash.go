package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainChangeSet = "sdd/changeset/v1"
	DomainDocument  = "sdd/document/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChangeSetID computes a content-addressed id for a batch of changes.
// Order matters: the same changes in a different order are a different batch.
// Rationale is included so two batches with different intent stay distinct.
func ChangeSetID(changes []ProposedChange) (string, error) {
	list := make([]any, len(changes))
	for i, c := range changes {
		list[i] = map[string]any{
			"op":          string(c.Operation()),
			"entity_type": c.EntityType,
			"entity_id":   c.EntityID,
			"field_path":  c.FieldPath,
			"new_value":   Normalize(c.NewValue),
			"rationale":   c.Rationale,
		}
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("ChangeSetID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChangeSet, canonical), nil
}

// DocumentHash computes a content hash of an entity document.
func DocumentHash(doc Document) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("DocumentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustChangeSetID is like ChangeSetID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChangeSetID(changes []ProposedChange) string {
	id, err := ChangeSetID(changes)
	if err != nil {
		panic(err)
	}
	return id
}
