// Package identity resolves fragments to canonical IDs through the
// aggregation key index. The index is a persisted union-find: "find" is an
// index-row lookup and "union" is a lowest-ID-wins rewrite of every affected
// row, so canonical state survives restarts.
package identity

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/records"
)

// casAttempts bounds retries when an index-row compare-and-swap loses to a
// concurrent writer. The retry re-reads the index, so a lost create race
// resolves on the next attempt as a plain match or a union.
const casAttempts = 3

// Resolution is the outcome of resolving one fragment's keys.
type Resolution struct {
	Outcome     records.Outcome
	CanonicalID records.CanonicalID
	Record      *records.CanonicalRecord

	// MergedFrom lists the records superseded when this resolution performed
	// a union.
	MergedFrom []records.CanonicalID

	// Conflicts and ConflictingKeys carry the split identity when the
	// outcome is RequiresReview.
	Conflicts       []records.CanonicalID
	ConflictingKeys []records.AggregationKey
}

// Resolver resolves and union-merges canonical IDs from declared keys.
type Resolver struct {
	store    records.Store
	recorder *audit.Recorder
	logger   *zerolog.Logger
}

// NewResolver creates a resolver over the persistence collaborator.
func NewResolver(store records.Store, recorder *audit.Recorder, logger *zerolog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{store: store, recorder: recorder, logger: logger}
}

// Resolve maps the fragment's non-null declared keys to a canonical record.
// No key present fails with an IdentityError before any write. Contention on
// index rows is handled with per-row compare-and-swap, never a global lock.
func (r *Resolver) Resolve(ctx context.Context, fragment records.Fragment, keyNames []string, posture records.MergePosture) (*Resolution, error) {
	keys := fragment.Keys(keyNames)
	if len(keys) == 0 {
		return nil, errors.NewIdentityError(fragment.EntityType, "fragment carries no non-null aggregation key", errors.ErrEmptyKeySet)
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		resolution, err := r.resolveOnce(ctx, fragment.EntityType, keys, posture)
		if err == nil {
			return resolution, nil
		}
		if !errors.IsCASConflict(err) {
			return nil, err
		}
		lastErr = err
		r.logger.Debug().
			Str("entity_type", fragment.EntityType).
			Int("attempt", attempt+1).
			Msg("Index row changed under resolution, retrying")
	}
	return nil, lastErr
}

// resolveOnce performs one read-then-write pass over the index.
func (r *Resolver) resolveOnce(ctx context.Context, entityType string, keys []records.AggregationKey, posture records.MergePosture) (*Resolution, error) {
	matched := make(map[records.CanonicalID][]records.AggregationKey)
	var unmatched []records.AggregationKey

	for _, key := range keys {
		id, err := r.store.LookupIndex(ctx, entityType, key.Name, key.Value)
		if err != nil {
			if errors.IsNotFound(err) {
				unmatched = append(unmatched, key)
				continue
			}
			return nil, err
		}
		matched[id] = append(matched[id], key)
	}

	switch len(matched) {
	case 0:
		return r.create(ctx, entityType, keys)
	case 1:
		for id := range matched {
			return r.update(ctx, entityType, id, unmatched)
		}
		panic("unreachable")
	default:
		return r.union(ctx, entityType, matched, unmatched, keys, posture)
	}
}

// create allocates a new canonical record for a novel key set. The record is
// written before its index rows so no row ever points at a missing record.
func (r *Resolver) create(ctx context.Context, entityType string, keys []records.AggregationKey) (*Resolution, error) {
	record := records.NewCanonicalRecord(entityType)
	if err := r.store.PutRecord(ctx, record); err != nil {
		return nil, err
	}

	for _, key := range keys {
		row := records.IndexRow{EntityType: entityType, KeyName: key.Name, KeyValue: key.Value, CanonicalID: record.ID}
		if err := r.store.CompareAndSwapIndex(ctx, row, ""); err != nil {
			// A concurrent writer claimed the key. Rows already written point
			// at a valid record; the retry re-reads the index and resolves
			// the race as a match or a union.
			return nil, err
		}
	}

	r.logger.Info().
		Str("entity_type", entityType).
		Str("canonical_id", record.ID.String()).
		Int("keys", len(keys)).
		Msg("Canonical record created")

	return &Resolution{
		Outcome:     records.OutcomeCreated,
		CanonicalID: record.ID,
		Record:      record,
	}, nil
}

// update resolves to the single matched record and indexes any newly seen
// keys.
func (r *Resolver) update(ctx context.Context, entityType string, id records.CanonicalID, unmatched []records.AggregationKey) (*Resolution, error) {
	record, err := records.Resolve(ctx, r.store, id)
	if err != nil {
		return nil, err
	}

	for _, key := range unmatched {
		row := records.IndexRow{EntityType: entityType, KeyName: key.Name, KeyValue: key.Value, CanonicalID: record.ID}
		if err := r.store.CompareAndSwapIndex(ctx, row, ""); err != nil {
			return nil, err
		}
	}

	return &Resolution{
		Outcome:     records.OutcomeUpdated,
		CanonicalID: record.ID,
		Record:      record,
	}, nil
}

// union merges a split identity: the lexicographically lowest canonical ID
// survives, every row pointing at a superseded ID is rewritten, and exactly
// one IdentityMerge audit entry is recorded per merge. Under
// RequireManualReview the union is not performed and the conflicting IDs are
// returned for manual intervention.
func (r *Resolver) union(ctx context.Context, entityType string, matched map[records.CanonicalID][]records.AggregationKey, unmatched, keys []records.AggregationKey, posture records.MergePosture) (*Resolution, error) {
	distinct := make([]records.CanonicalID, 0, len(matched))
	for id := range matched {
		distinct = append(distinct, id)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].Less(distinct[j]) })

	conflicting := make([]records.AggregationKey, 0, len(keys)-len(unmatched))
	for _, id := range distinct {
		conflicting = append(conflicting, matched[id]...)
	}

	if posture == records.RequireManualReview {
		r.logger.Warn().
			Str("entity_type", entityType).
			Int("identities", len(distinct)).
			Msg("Split identity detected, deferring to manual review")
		return &Resolution{
			Outcome:         records.OutcomeRequiresReview,
			Conflicts:       distinct,
			ConflictingKeys: conflicting,
		}, nil
	}

	survivor := distinct[0]
	losers := distinct[1:]

	// The sink write precedes the rewrite: a failed canonization must never
	// leave an unaudited merge.
	if err := r.recorder.Record(ctx, audit.Entry{
		CanonicalID: survivor,
		Phase:       "Aggregation",
		Event:       audit.EventIdentityMerge,
		Evidence: map[string]string{
			"supersededIds": joinIDs(losers),
			"winningKeys":   joinKeys(matched[survivor]),
			"reason":        "CanonicalIdUnion",
		},
	}); err != nil {
		return nil, err
	}

	// The union runs to completion once begun; cancellation is honored at
	// phase boundaries, never mid-union.
	unionCtx := context.WithoutCancel(ctx)

	record, err := records.Resolve(unionCtx, r.store, survivor)
	if err != nil {
		return nil, err
	}

	for _, loser := range losers {
		superseded, err := r.store.GetRecord(unionCtx, loser)
		if err != nil {
			return nil, err
		}
		superseded.Status = records.StatusSuperseded
		superseded.SetTag(records.TagSupersededBy, survivor.String())
		if err := r.store.PutRecord(unionCtx, superseded); err != nil {
			return nil, err
		}
		record.AppendTag(records.TagMergedFrom, loser.String())
	}

	rewritten, err := r.store.RewriteIndex(unionCtx, entityType, losers, survivor)
	if err != nil {
		return nil, err
	}

	if err := r.store.PutRecord(unionCtx, record); err != nil {
		return nil, err
	}

	for _, key := range unmatched {
		row := records.IndexRow{EntityType: entityType, KeyName: key.Name, KeyValue: key.Value, CanonicalID: survivor}
		if err := r.store.CompareAndSwapIndex(unionCtx, row, ""); err != nil {
			return nil, err
		}
	}

	r.logger.Info().
		Str("entity_type", entityType).
		Str("survivor", survivor.String()).
		Strs("superseded", idStrings(losers)).
		Int("rows_rewritten", rewritten).
		Msg("Canonical identities unified")

	return &Resolution{
		Outcome:     records.OutcomeUpdated,
		CanonicalID: survivor,
		Record:      record,
		MergedFrom:  losers,
	}, nil
}

func joinIDs(ids []records.CanonicalID) string {
	return strings.Join(idStrings(ids), ",")
}

func idStrings(ids []records.CanonicalID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func joinKeys(keys []records.AggregationKey) string {
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key.Name + "=" + key.Value
	}
	return strings.Join(parts, ",")
}
