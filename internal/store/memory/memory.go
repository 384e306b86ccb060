// Package memory provides in-memory implementations of the persistence,
// staging, and audit collaborators. They are the reference collaborators for
// tests and single-process deployments; production deployments use the
// postgres package.
package memory

import (
	"context"
	"sync"

	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

// indexKey addresses one aggregation index row.
type indexKey struct {
	entityType string
	keyName    string
	keyValue   string
}

// Store is a mutex-guarded in-memory persistence collaborator with row-level
// compare-and-swap semantics on the aggregation key index.
type Store struct {
	mu      sync.RWMutex
	records map[records.CanonicalID]*records.CanonicalRecord
	index   map[indexKey]records.CanonicalID
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[records.CanonicalID]*records.CanonicalRecord),
		index:   make(map[indexKey]records.CanonicalID),
	}
}

// GetRecord returns a copy of the record for an ID, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id records.CanonicalID) (*records.CanonicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("canonical record", id.String())
	}
	return record.Clone(), nil
}

// PutRecord upserts a canonical record.
func (s *Store) PutRecord(ctx context.Context, record *records.CanonicalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record.Clone()
	return nil
}

// LookupIndex returns the canonical ID an index row points to, or
// ErrNotFound.
func (s *Store) LookupIndex(ctx context.Context, entityType, keyName, keyValue string) (records.CanonicalID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.index[indexKey{entityType, keyName, keyValue}]
	if !ok {
		return "", errors.NewNotFoundError("index row", keyName+"="+keyValue)
	}
	return id, nil
}

// CompareAndSwapIndex writes an index row iff its current canonical ID equals
// expected. An empty expected means the row must not exist.
func (s *Store) CompareAndSwapIndex(ctx context.Context, row records.IndexRow, expected records.CanonicalID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := indexKey{row.EntityType, row.KeyName, row.KeyValue}
	current, exists := s.index[key]

	if expected == "" {
		if exists && current != row.CanonicalID {
			return errors.ErrCASConflict
		}
	} else if !exists || current != expected {
		return errors.ErrCASConflict
	}

	s.index[key] = row.CanonicalID
	return nil
}

// RewriteIndex repoints every row of the entity type referencing one of the
// from IDs at the to ID.
func (s *Store) RewriteIndex(ctx context.Context, entityType string, from []records.CanonicalID, to records.CanonicalID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	superseded := make(map[records.CanonicalID]bool, len(from))
	for _, id := range from {
		superseded[id] = true
	}

	rewritten := 0
	for key, id := range s.index {
		if key.entityType == entityType && superseded[id] {
			s.index[key] = to
			rewritten++
		}
	}
	return rewritten, nil
}

// IndexSize returns the number of index rows, for tests and diagnostics.
func (s *Store) IndexSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// StagingStore is a mutex-guarded in-memory staging collaborator.
type StagingStore struct {
	mu     sync.RWMutex
	parked map[string]staging.ParkedFragment
}

// NewStagingStore creates an empty in-memory staging store.
func NewStagingStore() *StagingStore {
	return &StagingStore{parked: make(map[string]staging.ParkedFragment)}
}

// Park persists a parked fragment keyed by correlation ID.
func (s *StagingStore) Park(ctx context.Context, parked staging.ParkedFragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parked[parked.CorrelationID] = parked
	return nil
}

// Get returns the parked fragment for a correlation ID, or ErrNotFound.
func (s *StagingStore) Get(ctx context.Context, correlationID string) (*staging.ParkedFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	parked, ok := s.parked[correlationID]
	if !ok {
		return nil, errors.NewNotFoundError("parked fragment", correlationID)
	}
	return &parked, nil
}

// ListByConflict returns parked fragments whose conflicts reference the
// canonical ID.
func (s *StagingStore) ListByConflict(ctx context.Context, id records.CanonicalID) ([]staging.ParkedFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []staging.ParkedFragment
	for _, parked := range s.parked {
		for _, conflict := range parked.Conflicts {
			if conflict == id {
				matches = append(matches, parked)
				break
			}
		}
	}
	return matches, nil
}

// AuditSink is a mutex-guarded in-memory audit sink that retains every
// entry, for tests and single-process deployments.
type AuditSink struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

// NewAuditSink creates an empty in-memory audit sink.
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

// Write appends an entry.
func (s *AuditSink) Write(ctx context.Context, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of all recorded entries in write order.
func (s *AuditSink) Entries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
