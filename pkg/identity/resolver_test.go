package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-data/meridian/internal/store/memory"
	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/records"
)

func newTestResolver(t *testing.T) (*Resolver, *memory.Store, *memory.AuditSink) {
	t.Helper()
	store := memory.NewStore()
	sink := memory.NewAuditSink()
	recorder := audit.NewRecorder(sink, &logging.Nop)
	return NewResolver(store, recorder, &logging.Nop), store, sink
}

func fragment(values map[string]any) records.Fragment {
	return records.Fragment{EntityType: "employee", Values: values}
}

var employeeKeys = []string{"employee_id", "email", "badge"}

func TestResolveRejectsEmptyKeySet(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	_, err := resolver.Resolve(context.Background(), fragment(map[string]any{"name": "Ada", "email": nil}), employeeKeys, records.AutoUnion)
	require.Error(t, err)
	assert.True(t, errors.IsIdentity(err))
}

func TestResolveCreatesForNovelKeys(t *testing.T) {
	resolver, store, _ := newTestResolver(t)

	resolution, err := resolver.Resolve(context.Background(), fragment(map[string]any{"employee_id": "E-1", "email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeCreated, resolution.Outcome)
	assert.NotEmpty(t, resolution.CanonicalID)

	// Both keys index the new record.
	for _, key := range []records.AggregationKey{
		{Name: "employee_id", Value: "E-1"},
		{Name: "email", Value: "ada@example.com"},
	} {
		id, err := store.LookupIndex(context.Background(), "employee", key.Name, key.Value)
		require.NoError(t, err)
		assert.Equal(t, resolution.CanonicalID, id)
	}
}

func TestResolveUpdatesAndIndexesNewKeys(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	created, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	// Same employee seen again with an extra key.
	updated, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1", "badge": "B-9"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeUpdated, updated.Outcome)
	assert.Equal(t, created.CanonicalID, updated.CanonicalID)

	id, err := store.LookupIndex(ctx, "employee", "badge", "B-9")
	require.NoError(t, err)
	assert.Equal(t, created.CanonicalID, id)
}

func TestResolveUnionsSplitIdentity(t *testing.T) {
	resolver, store, sink := newTestResolver(t)
	ctx := context.Background()

	// Two fragments with disjoint keys create two records.
	first, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, fragment(map[string]any{"email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	require.NotEqual(t, first.CanonicalID, second.CanonicalID)

	// A bridging fragment carrying both keys triggers the union.
	bridged, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1", "email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeUpdated, bridged.Outcome)

	// The lexicographically lowest ID survives; V7 IDs make that the oldest.
	assert.Equal(t, first.CanonicalID, bridged.CanonicalID)
	assert.Equal(t, []records.CanonicalID{second.CanonicalID}, bridged.MergedFrom)

	// Every index row now points at the survivor.
	for _, key := range []records.AggregationKey{
		{Name: "employee_id", Value: "E-1"},
		{Name: "email", Value: "ada@example.com"},
	} {
		id, err := store.LookupIndex(ctx, "employee", key.Name, key.Value)
		require.NoError(t, err)
		assert.Equal(t, first.CanonicalID, id)
	}

	// The loser is superseded and points at its survivor.
	loser, err := store.GetRecord(ctx, second.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusSuperseded, loser.Status)
	assert.Equal(t, first.CanonicalID.String(), loser.Tags[records.TagSupersededBy])

	// The survivor carries the lineage tag.
	survivor, err := store.GetRecord(ctx, first.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, []records.CanonicalID{second.CanonicalID}, survivor.MergedFrom())

	// Exactly one merge entry was audited.
	merges := 0
	for _, entry := range sink.Entries() {
		if entry.Event == audit.EventIdentityMerge {
			merges++
			assert.Equal(t, first.CanonicalID, entry.CanonicalID)
			assert.Equal(t, second.CanonicalID.String(), entry.Evidence["supersededIds"])
		}
	}
	assert.Equal(t, 1, merges)
}

func TestResolveRedirectsThroughSupersededRecords(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, fragment(map[string]any{"email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1", "email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	// Resolving a key of the absorbed record lands on the survivor, not the
	// superseded loser.
	again, err := resolver.Resolve(ctx, fragment(map[string]any{"email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	assert.Equal(t, first.CanonicalID, again.CanonicalID)
	assert.Equal(t, records.StatusActive, again.Record.Status)
}

func TestResolveSharedKeysNeverSplit(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	ctx := context.Background()

	// Any two fragments sharing at least one key value must resolve to the
	// same canonical ID.
	first, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-7", "badge": "B-1"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	second, err := resolver.Resolve(ctx, fragment(map[string]any{"badge": "B-1", "email": "x@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	assert.Equal(t, first.CanonicalID, second.CanonicalID)
}

func TestResolveRequireManualReviewPerformsNoWrites(t *testing.T) {
	resolver, store, sink := newTestResolver(t)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, fragment(map[string]any{"email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	indexBefore := store.IndexSize()

	resolution, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1", "email": "ada@example.com"}), employeeKeys, records.RequireManualReview)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeRequiresReview, resolution.Outcome)
	assert.ElementsMatch(t, []records.CanonicalID{first.CanonicalID, second.CanonicalID}, resolution.Conflicts)
	assert.Len(t, resolution.ConflictingKeys, 2)

	// Neither record changed, no index row moved, no merge was audited.
	assert.Equal(t, indexBefore, store.IndexSize())
	for _, id := range []records.CanonicalID{first.CanonicalID, second.CanonicalID} {
		record, err := store.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, records.StatusActive, record.Status)
	}
	for _, entry := range sink.Entries() {
		assert.NotEqual(t, audit.EventIdentityMerge, entry.Event)
	}
}

func TestResolveFailsClosedWhenAuditUnavailable(t *testing.T) {
	store := memory.NewStore()
	recorder := audit.NewRecorder(failingSink{}, &logging.Nop)
	resolver := NewResolver(store, recorder, &logging.Nop)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, fragment(map[string]any{"email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.NoError(t, err)

	indexBefore := store.IndexSize()

	// The union's audit entry cannot be written, so the union must not
	// happen.
	_, err = resolver.Resolve(ctx, fragment(map[string]any{"employee_id": "E-1", "email": "ada@example.com"}), employeeKeys, records.AutoUnion)
	require.Error(t, err)
	assert.True(t, errors.IsAuditWrite(err))
	assert.Equal(t, indexBefore, store.IndexSize())
}

// failingSink rejects every write.
type failingSink struct{}

func (failingSink) Write(context.Context, audit.Entry) error {
	return errors.New("sink unavailable")
}
