// Package records defines the data model of the meridian engine: canonical
// records, fragments, canonization requests and results, and the persistence
// collaborator contract. The canonical record is the single merged "golden
// record" representing one real-world entity.
package records

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalID identifies a canonical record. IDs are UUIDv7 strings: stable,
// unique, and time-ordered, so lexicographic order over the canonical string
// form is creation order.
type CanonicalID string

// NewCanonicalID allocates a new time-ordered canonical ID.
func NewCanonicalID() CanonicalID {
	return CanonicalID(uuid.Must(uuid.NewV7()).String())
}

// String returns the canonical string form of the ID.
func (id CanonicalID) String() string {
	return string(id)
}

// Less compares two canonical IDs lexicographically over their canonical
// string form. The lowest ID wins union tie-breaks.
func (id CanonicalID) Less(other CanonicalID) bool {
	return string(id) < string(other)
}

// Status is the lifecycle state of a canonical record. Records are never
// physically deleted; a record absorbed by a union flips to Superseded and
// remains for lineage and audit.
type Status string

const (
	// StatusActive marks the live golden record for an entity.
	StatusActive Status = "Active"

	// StatusSuperseded marks a record absorbed by a union. It accepts no new
	// direct writes; all writes redirect to its survivor.
	StatusSuperseded Status = "Superseded"
)

// Well-known tag keys carrying record lineage.
const (
	// TagMergedFrom lists the canonical IDs a survivor absorbed,
	// comma-separated in merge order.
	TagMergedFrom = "merged-from"

	// TagSupersededBy points a superseded record at its survivor.
	TagSupersededBy = "superseded-by"

	// tagAuthorityPrefix prefixes per-field tags naming the authority that
	// set a SourceOfTruth-governed field.
	tagAuthorityPrefix = "sot:"

	// tagSourcePrefix prefixes per-field tags naming the origin whose value
	// currently holds the field.
	tagSourcePrefix = "src:"
)

// CanonicalRecord is the golden record for one real-world entity.
type CanonicalRecord struct {
	ID         CanonicalID       `json:"id" yaml:"id"`
	EntityType string            `json:"entity_type" yaml:"entity_type"`
	Fields     map[string]any    `json:"fields" yaml:"fields"`
	Tags       map[string]string `json:"tags" yaml:"tags"`
	Status     Status            `json:"status" yaml:"status"`
	CreatedAt  time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" yaml:"updated_at"`
}

// NewCanonicalRecord creates a fresh Active record with an allocated ID.
func NewCanonicalRecord(entityType string) *CanonicalRecord {
	now := time.Now().UTC()
	return &CanonicalRecord{
		ID:         NewCanonicalID(),
		EntityType: entityType,
		Fields:     make(map[string]any),
		Tags:       make(map[string]string),
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the record's maps so callers can mutate the
// copy without racing readers of the original.
func (r *CanonicalRecord) Clone() *CanonicalRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		clone.Fields[k] = v
	}
	clone.Tags = make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		clone.Tags[k] = v
	}
	return &clone
}

// Field returns the stored value for a field and whether it is non-null.
func (r *CanonicalRecord) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SetField stores a field value and records the origin that supplied it.
func (r *CanonicalRecord) SetField(name string, value any, origin string) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
	if origin != "" {
		r.SetTag(tagSourcePrefix+name, origin)
	}
}

// FieldSource returns the origin whose value currently holds the field.
func (r *CanonicalRecord) FieldSource(name string) string {
	return r.Tags[tagSourcePrefix+name]
}

// SetTag sets a tag value.
func (r *CanonicalRecord) SetTag(key, value string) {
	if r.Tags == nil {
		r.Tags = make(map[string]string)
	}
	r.Tags[key] = value
}

// AppendTag extends a comma-separated tag list, skipping duplicates.
func (r *CanonicalRecord) AppendTag(key, value string) {
	existing := r.Tags[key]
	if existing == "" {
		r.SetTag(key, value)
		return
	}
	for _, have := range strings.Split(existing, ",") {
		if have == value {
			return
		}
	}
	r.SetTag(key, existing+","+value)
}

// MergedFrom returns the canonical IDs this record absorbed via unions.
func (r *CanonicalRecord) MergedFrom() []CanonicalID {
	raw := r.Tags[TagMergedFrom]
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]CanonicalID, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			ids = append(ids, CanonicalID(p))
		}
	}
	return ids
}

// AuthoritativeOrigin returns the authority that set a SourceOfTruth-governed
// field, or false if no authoritative value exists yet.
func (r *CanonicalRecord) AuthoritativeOrigin(field string) (string, bool) {
	origin, ok := r.Tags[tagAuthorityPrefix+field]
	return origin, ok && origin != ""
}

// MarkAuthoritative records that an authority set the field's current value.
func (r *CanonicalRecord) MarkAuthoritative(field, origin string) {
	r.SetTag(tagAuthorityPrefix+field, origin)
}

// FieldNames returns the record's non-null field names in sorted order.
func (r *CanonicalRecord) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name, v := range r.Fields {
		if v != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
