package records

import "context"

// IndexRow is one aggregation key index entry: (entity type, key name, key
// value) → canonical ID. Many rows may point to one canonical record.
type IndexRow struct {
	EntityType  string      `json:"entity_type"`
	KeyName     string      `json:"key_name"`
	KeyValue    string      `json:"key_value"`
	CanonicalID CanonicalID `json:"canonical_id"`
}

// Store is the persistence collaborator. Implementations must support
// context-scoped cancellation and row-level compare-and-swap on index rows;
// the index-read-then-union-write step is the engine's primary contention
// point and must not require a global lock.
type Store interface {
	// GetRecord returns the record for an ID, or ErrNotFound.
	GetRecord(ctx context.Context, id CanonicalID) (*CanonicalRecord, error)

	// PutRecord upserts a canonical record.
	PutRecord(ctx context.Context, record *CanonicalRecord) error

	// LookupIndex returns the canonical ID an index row points to, or
	// ErrNotFound.
	LookupIndex(ctx context.Context, entityType, keyName, keyValue string) (CanonicalID, error)

	// CompareAndSwapIndex writes an index row iff its current canonical ID
	// equals expected. An empty expected means the row must not exist.
	// Returns ErrCASConflict when the row changed under the caller.
	CompareAndSwapIndex(ctx context.Context, row IndexRow, expected CanonicalID) error

	// RewriteIndex repoints every index row of the entity type that
	// references one of the from IDs at the to ID, returning the number of
	// rows rewritten. This is the bulk operation behind a union.
	RewriteIndex(ctx context.Context, entityType string, from []CanonicalID, to CanonicalID) (int, error)
}

// Resolve follows the superseded-by chain from id to the surviving Active
// record. Reads of a superseded record redirect to its survivor.
func Resolve(ctx context.Context, store Store, id CanonicalID) (*CanonicalRecord, error) {
	for {
		record, err := store.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if record.Status != StatusSuperseded {
			return record, nil
		}
		next := record.Tags[TagSupersededBy]
		if next == "" || CanonicalID(next) == id {
			// Dangling chain: surface the superseded record rather than loop.
			return record, nil
		}
		id = CanonicalID(next)
	}
}
