// Package model holds Axiom's core data types — facts, blocks, peers,
// and validators — together with their canonical serialization and
// hashing, independent of how they are stored or moved over the wire.
package model

import (
	"encoding/json"
	"sort"
	"time"
)

// RelationshipKind identifies how two facts relate in the knowledge
// graph. The set is not formally closed — unknown kinds must
// round-trip — so this is a plain string type rather than a Go enum
// with an exhaustive switch.
type RelationshipKind string

// The named relationship kinds. Additional kinds may appear on the
// wire and must be preserved rather than rejected.
const (
	RelationRelated     RelationshipKind = "related"
	RelationCausation   RelationshipKind = "causation"
	RelationChronology  RelationshipKind = "chronology"
	RelationContrast    RelationshipKind = "contrast"
	RelationElaboration RelationshipKind = "elaboration"
)

// Link is one edge of the knowledge graph, from the owning Fact to
// another fact identified by hash. Weight is positive for a
// corroborating/strengthening link and -1 for the dispute edge created
// by Dispute (ported from original_source/ledger.py's
// mark_fact_objects_as_disputed).
type Link struct {
	TargetHash string           `json:"target_hash"`
	Kind       RelationshipKind `json:"kind"`
	Weight     int              `json:"weight"`
}

// SourceRecord is provenance metadata: where a fact was retrieved from
// and when. Axiom does not persist the raw document, only this record.
type SourceRecord struct {
	Domain           string    `json:"domain"`
	RetrievedAt      time.Time `json:"retrieved_at"`
}

// Fact is a single extracted, objective statement together with its
// corroboration state and provenance.
type Fact struct {
	ID        int64             `json:"id"`
	Hash      string            `json:"hash"`
	Content   string            `json:"content"`
	Semantics json.RawMessage   `json:"semantics,omitempty"`
	Disputed  bool              `json:"disputed"`
	Score     int               `json:"score"`
	Links     []Link            `json:"links,omitempty"`
	Sources   []SourceRecord    `json:"sources,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Sealed    bool              `json:"sealed"`
	SealedIn  int64             `json:"sealed_in,omitempty"`
}

// factHashPayload is the canonical subset of fields hashed to produce
// Fact.Hash: {content, id, creation timestamp}.
type factHashPayload struct {
	Content   string `json:"content"`
	ID        int64  `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// CanonicalBytes returns the canonical serialization whose SHA-256
// digest is the fact's immutable hash.
func (f *Fact) CanonicalBytes() ([]byte, error) {
	payload := factHashPayload{
		Content:   f.Content,
		ID:        f.ID,
		CreatedAt: f.CreatedAt.UTC().Unix(),
	}
	return json.Marshal(payload)
}

// Corroborated reports whether an independent source has repeated this fact.
func (f *Fact) Corroborated() bool {
	return f.Score >= 2
}

// Trusted reports whether the fact is corroborated and not disputed —
// the precondition for being sealed into a block.
func (f *Fact) Trusted() bool {
	return f.Corroborated() && !f.Disputed
}

// HasSource reports whether domain has already corroborated this
// fact, used to enforce that re-submission from the same domain is a
// no-op rather than a second score increment.
func (f *Fact) HasSource(domain string) bool {
	for _, s := range f.Sources {
		if s.Domain == domain {
			return true
		}
	}
	return false
}

// SortFactsByID sorts facts in place by ID ascending, with a
// deterministic tie-break on hash — the selection order used when
// constructing a block.
func SortFactsByID(facts []*Fact) {
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].ID != facts[j].ID {
			return facts[i].ID < facts[j].ID
		}
		return facts[i].Hash < facts[j].Hash
	})
}
