// Package postgres provides PostgreSQL-backed implementations of the
// persistence, staging, and audit collaborators using pgx. Index-row
// compare-and-swap is implemented with conditional writes so concurrent
// unions contend per row, never on a global lock.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

// Schema creates the tables the store relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS canonical_records (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	fields      JSONB NOT NULL DEFAULT '{}'::jsonb,
	tags        JSONB NOT NULL DEFAULT '{}'::jsonb,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregation_index (
	entity_type  TEXT NOT NULL,
	key_name     TEXT NOT NULL,
	key_value    TEXT NOT NULL,
	canonical_id TEXT NOT NULL,
	PRIMARY KEY (entity_type, key_name, key_value)
);

CREATE INDEX IF NOT EXISTS aggregation_index_canonical_id
	ON aggregation_index (entity_type, canonical_id);

CREATE TABLE IF NOT EXISTS parked_fragments (
	correlation_id TEXT PRIMARY KEY,
	payload        JSONB NOT NULL,
	reason         TEXT NOT NULL,
	conflicts      TEXT[] NOT NULL DEFAULT '{}',
	parked_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id           BIGSERIAL PRIMARY KEY,
	canonical_id TEXT NOT NULL,
	phase        TEXT NOT NULL,
	event        TEXT NOT NULL,
	evidence     JSONB NOT NULL DEFAULT '{}'::jsonb,
	recorded_at  TIMESTAMPTZ NOT NULL
);
`

// Store is a PostgreSQL persistence collaborator. It also implements the
// staging store and the audit sink so one pool serves all durable concerns.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a store to a PostgreSQL instance.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the store's tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetRecord returns the record for an ID, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id records.CanonicalID) (*records.CanonicalRecord, error) {
	const query = `
		SELECT id, entity_type, fields, tags, status, created_at, updated_at
		FROM canonical_records WHERE id = $1`

	var (
		record      records.CanonicalRecord
		fieldsJSON  []byte
		tagsJSON    []byte
		statusValue string
	)
	err := s.pool.QueryRow(ctx, query, id.String()).Scan(
		&record.ID, &record.EntityType, &fieldsJSON, &tagsJSON, &statusValue,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("canonical record", id.String())
		}
		return nil, errors.WrapStore("get", "record", id.String(), err)
	}

	record.Status = records.Status(statusValue)
	if err := json.Unmarshal(fieldsJSON, &record.Fields); err != nil {
		return nil, errors.WrapStore("get", "record", id.String(), err)
	}
	if err := json.Unmarshal(tagsJSON, &record.Tags); err != nil {
		return nil, errors.WrapStore("get", "record", id.String(), err)
	}
	return &record, nil
}

// PutRecord upserts a canonical record.
func (s *Store) PutRecord(ctx context.Context, record *records.CanonicalRecord) error {
	const query = `
		INSERT INTO canonical_records (id, entity_type, fields, tags, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			fields = EXCLUDED.fields,
			tags = EXCLUDED.tags,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return errors.WrapStore("put", "record", record.ID.String(), err)
	}
	tagsJSON, err := json.Marshal(record.Tags)
	if err != nil {
		return errors.WrapStore("put", "record", record.ID.String(), err)
	}

	_, err = s.pool.Exec(ctx, query,
		record.ID.String(), record.EntityType, fieldsJSON, tagsJSON,
		string(record.Status), record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return errors.WrapStore("put", "record", record.ID.String(), err)
	}
	return nil
}

// LookupIndex returns the canonical ID an index row points to, or
// ErrNotFound.
func (s *Store) LookupIndex(ctx context.Context, entityType, keyName, keyValue string) (records.CanonicalID, error) {
	const query = `
		SELECT canonical_id FROM aggregation_index
		WHERE entity_type = $1 AND key_name = $2 AND key_value = $3`

	var id string
	err := s.pool.QueryRow(ctx, query, entityType, keyName, keyValue).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", errors.NewNotFoundError("index row", keyName+"="+keyValue)
		}
		return "", errors.WrapStore("get", "index", keyName, err)
	}
	return records.CanonicalID(id), nil
}

// CompareAndSwapIndex writes an index row iff its current canonical ID
// equals expected. The condition rides the statement itself so contention is
// per row.
func (s *Store) CompareAndSwapIndex(ctx context.Context, row records.IndexRow, expected records.CanonicalID) error {
	if expected == "" {
		// The row must not exist (an idempotent re-write of the same ID is
		// accepted).
		const insert = `
			INSERT INTO aggregation_index (entity_type, key_name, key_value, canonical_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_type, key_name, key_value) DO UPDATE
				SET canonical_id = EXCLUDED.canonical_id
				WHERE aggregation_index.canonical_id = EXCLUDED.canonical_id`

		tag, err := s.pool.Exec(ctx, insert, row.EntityType, row.KeyName, row.KeyValue, row.CanonicalID.String())
		if err != nil {
			return errors.WrapStore("cas", "index", row.KeyName, err)
		}
		if tag.RowsAffected() == 0 {
			return errors.ErrCASConflict
		}
		return nil
	}

	const update = `
		UPDATE aggregation_index SET canonical_id = $4
		WHERE entity_type = $1 AND key_name = $2 AND key_value = $3 AND canonical_id = $5`

	tag, err := s.pool.Exec(ctx, update, row.EntityType, row.KeyName, row.KeyValue, row.CanonicalID.String(), expected.String())
	if err != nil {
		return errors.WrapStore("cas", "index", row.KeyName, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrCASConflict
	}
	return nil
}

// RewriteIndex repoints every row of the entity type referencing one of the
// from IDs at the to ID in a single statement.
func (s *Store) RewriteIndex(ctx context.Context, entityType string, from []records.CanonicalID, to records.CanonicalID) (int, error) {
	const query = `
		UPDATE aggregation_index SET canonical_id = $1
		WHERE entity_type = $2 AND canonical_id = ANY($3)`

	ids := make([]string, len(from))
	for i, id := range from {
		ids[i] = id.String()
	}

	tag, err := s.pool.Exec(ctx, query, to.String(), entityType, ids)
	if err != nil {
		return 0, errors.WrapStore("rewrite", "index", to.String(), err)
	}
	return int(tag.RowsAffected()), nil
}

// Park persists a parked fragment.
func (s *Store) Park(ctx context.Context, parked staging.ParkedFragment) error {
	const query = `
		INSERT INTO parked_fragments (correlation_id, payload, reason, conflicts, parked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			reason = EXCLUDED.reason,
			conflicts = EXCLUDED.conflicts,
			parked_at = EXCLUDED.parked_at`

	payload, err := json.Marshal(parked)
	if err != nil {
		return errors.WrapStore("put", "staging", parked.CorrelationID, err)
	}

	conflicts := make([]string, len(parked.Conflicts))
	for i, id := range parked.Conflicts {
		conflicts[i] = id.String()
	}

	_, err = s.pool.Exec(ctx, query, parked.CorrelationID, payload, string(parked.Reason), conflicts, parked.ParkedAt)
	if err != nil {
		return errors.WrapStore("put", "staging", parked.CorrelationID, err)
	}
	return nil
}

// Get returns the parked fragment for a correlation ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, correlationID string) (*staging.ParkedFragment, error) {
	const query = `SELECT payload FROM parked_fragments WHERE correlation_id = $1`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, correlationID).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("parked fragment", correlationID)
		}
		return nil, errors.WrapStore("get", "staging", correlationID, err)
	}

	var parked staging.ParkedFragment
	if err := json.Unmarshal(payload, &parked); err != nil {
		return nil, errors.WrapStore("get", "staging", correlationID, err)
	}
	return &parked, nil
}

// ListByConflict returns parked fragments whose conflicts reference the
// canonical ID.
func (s *Store) ListByConflict(ctx context.Context, id records.CanonicalID) ([]staging.ParkedFragment, error) {
	const query = `SELECT payload FROM parked_fragments WHERE $1 = ANY(conflicts) ORDER BY parked_at`

	rows, err := s.pool.Query(ctx, query, id.String())
	if err != nil {
		return nil, errors.WrapStore("get", "staging", id.String(), err)
	}
	defer rows.Close()

	var parked []staging.ParkedFragment
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.WrapStore("get", "staging", id.String(), err)
		}
		var fragment staging.ParkedFragment
		if err := json.Unmarshal(payload, &fragment); err != nil {
			return nil, errors.WrapStore("get", "staging", id.String(), err)
		}
		parked = append(parked, fragment)
	}
	return parked, rows.Err()
}

// Write appends one audit entry. One statement per entry keeps the durable
// trail append-only.
func (s *Store) Write(ctx context.Context, entry audit.Entry) error {
	const query = `
		INSERT INTO audit_entries (canonical_id, phase, event, evidence, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`

	evidence, err := json.Marshal(entry.Evidence)
	if err != nil {
		return fmt.Errorf("encoding audit evidence: %w", err)
	}

	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, query, entry.CanonicalID.String(), entry.Phase, entry.Event, evidence, timestamp)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}
