package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

// newTestStore connects to the database named by MERIDIAN_TEST_DSN, or skips
// the test when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MERIDIAN_TEST_DSN")
	if dsn == "" {
		t.Skip("MERIDIAN_TEST_DSN not set, skipping postgres integration test")
	}

	store, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := records.NewCanonicalRecord("employee")
	record.SetField("name", "Ada", "hr")
	record.SetTag("region", "eu")
	require.NoError(t, store.PutRecord(ctx, record))

	got, err := store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "Ada", got.Fields["name"])
	assert.Equal(t, "eu", got.Tags["region"])
	assert.Equal(t, records.StatusActive, got.Status)

	_, err = store.GetRecord(ctx, records.NewCanonicalID())
	assert.True(t, errors.IsNotFound(err))
}

func TestIndexCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keyValue := records.NewCanonicalID().String() // unique per run
	row := records.IndexRow{EntityType: "employee", KeyName: "email", KeyValue: keyValue, CanonicalID: "id-a"}

	require.NoError(t, store.CompareAndSwapIndex(ctx, row, ""))
	require.NoError(t, store.CompareAndSwapIndex(ctx, row, ""))

	taken := row
	taken.CanonicalID = "id-b"
	assert.True(t, errors.IsCASConflict(store.CompareAndSwapIndex(ctx, taken, "")))
	assert.True(t, errors.IsCASConflict(store.CompareAndSwapIndex(ctx, taken, "id-x")))
	require.NoError(t, store.CompareAndSwapIndex(ctx, taken, "id-a"))

	id, err := store.LookupIndex(ctx, "employee", "email", keyValue)
	require.NoError(t, err)
	assert.Equal(t, records.CanonicalID("id-b"), id)
}

func TestIndexRewrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	survivor := records.NewCanonicalID()
	loser := records.NewCanonicalID()
	keyValue := records.NewCanonicalID().String()

	row := records.IndexRow{EntityType: "employee", KeyName: "badge", KeyValue: keyValue, CanonicalID: loser}
	require.NoError(t, store.CompareAndSwapIndex(ctx, row, ""))

	rewritten, err := store.RewriteIndex(ctx, "employee", []records.CanonicalID{loser}, survivor)
	require.NoError(t, err)
	assert.Equal(t, 1, rewritten)

	id, err := store.LookupIndex(ctx, "employee", "badge", keyValue)
	require.NoError(t, err)
	assert.Equal(t, survivor, id)
}

func TestStagingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	correlationID := records.NewCanonicalID().String()
	conflict := records.NewCanonicalID()
	parked := staging.ParkedFragment{
		CorrelationID: correlationID,
		Request: records.Request{
			Fragment: records.Fragment{EntityType: "employee", Values: map[string]any{"employee_id": "E-1"}},
			Origin:   "hr",
		},
		Reason:    records.OutcomeRequiresReview,
		Conflicts: []records.CanonicalID{conflict},
	}
	require.NoError(t, store.Park(ctx, parked))

	got, err := store.Get(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeRequiresReview, got.Reason)
	assert.Equal(t, "hr", got.Request.Origin)

	byConflict, err := store.ListByConflict(ctx, conflict)
	require.NoError(t, err)
	require.Len(t, byConflict, 1)
	assert.Equal(t, correlationID, byConflict[0].CorrelationID)
}

func TestAuditWrite(t *testing.T) {
	store := newTestStore(t)

	err := store.Write(context.Background(), audit.Entry{
		CanonicalID: records.NewCanonicalID(),
		Phase:       "Policy",
		Event:       audit.EventRecordCanonized,
		Evidence:    map[string]string{"outcome": "Created"},
	})
	require.NoError(t, err)
}
