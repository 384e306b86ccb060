package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-data/meridian/internal/store/memory"
	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/identity"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/policy"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

type fixture struct {
	pipeline *Pipeline
	store    *memory.Store
	staging  *memory.StagingStore
	sink     *memory.AuditSink
	replay   *audit.ReplayBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	stagingStore := memory.NewStagingStore()
	sink := memory.NewAuditSink()
	recorder := audit.NewRecorder(sink, &logging.Nop)
	replay := audit.NewReplayBuffer(5)

	p := New(Config{
		Entities: map[string]EntityDefinition{
			"employee": {
				Keys: []string{"employee_id", "email"},
				Policies: policy.Set{
					"hired_on": {Kind: policy.First},
					"salary":   {Kind: policy.SourceOfTruth, Authorities: []string{"payroll"}},
				},
			},
		},
		Resolver: identity.NewResolver(store, recorder, &logging.Nop),
		Engine:   policy.NewEngine(&logging.Nop),
		Gate:     staging.NewGate(stagingStore, &logging.Nop),
		Recorder: recorder,
		Replay:   replay,
		Store:    store,
		Logger:   &logging.Nop,
	})
	return &fixture{pipeline: p, store: store, staging: stagingStore, sink: sink, replay: replay}
}

func employeeRequest(values map[string]any) *records.Request {
	return &records.Request{
		Fragment: records.Fragment{EntityType: "employee", Values: values},
		Origin:   "hr",
	}
}

func TestRegisterRejectsReservedPhases(t *testing.T) {
	f := newFixture(t)
	step := NewStep("noop", func(context.Context, *Context) error { return nil })

	for _, phase := range []Phase{PhaseAggregation, PhasePolicy} {
		err := f.pipeline.Register(phase, step)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrReservedPhase)
	}

	for _, phase := range []Phase{PhaseIntake, PhaseValidation, PhaseProjection, PhaseDistribution} {
		assert.NoError(t, f.pipeline.Register(phase, step))
	}

	assert.Error(t, f.pipeline.Register(Phase("Shipping"), step))
}

func TestRunUnknownEntityType(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), &records.Request{
		Fragment: records.Fragment{EntityType: "vendor", Values: map[string]any{"id": "V-1"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownEntityType)
}

func TestRunAssignsCorrelationID(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Run(context.Background(), employeeRequest(map[string]any{"employee_id": "E-1"}))
	require.NoError(t, err)
	assert.NotEmpty(t, result.CorrelationID)
}

func TestRunCreatesAndAudits(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Run(context.Background(), employeeRequest(map[string]any{
		"employee_id": "E-1",
		"name":        "Ada",
		"hired_on":    "2021-06-01",
	}))
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeCreated, result.Outcome)
	require.NotNil(t, result.Record)

	name, _ := result.Record.Field("name")
	assert.Equal(t, "Ada", name)
	assert.Len(t, result.Footprints, 3)

	// The committed record is durable.
	stored, err := f.store.GetRecord(context.Background(), result.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusActive, stored.Status)

	// A RecordCanonized entry was written with the outcome as evidence.
	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventRecordCanonized, entries[0].Event)
	assert.Equal(t, string(records.OutcomeCreated), entries[0].Evidence["outcome"])

	// The canonization landed in the replay history.
	assert.Equal(t, 1, f.replay.Len("employee"))
}

func TestValidationFailureAbortsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline.Register(PhaseValidation, NewStep("reject-all", func(context.Context, *Context) error {
		return errors.New("malformed fragment")
	})))

	_, err := f.pipeline.Run(context.Background(), employeeRequest(map[string]any{"employee_id": "E-1"}))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	assert.Equal(t, 0, f.store.IndexSize())
	assert.Empty(t, f.sink.Entries())
	assert.Equal(t, 0, f.replay.Len("employee"))
}

func TestStageOnlyParksWithoutResolution(t *testing.T) {
	f := newFixture(t)

	request := employeeRequest(map[string]any{"employee_id": "E-1"})
	request.StageBehavior = records.StageOnly

	result, err := f.pipeline.Run(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeParked, result.Outcome)
	assert.Empty(t, result.CanonicalID)
	assert.False(t, result.Outcome.Terminal())

	// Nothing was resolved or committed.
	assert.Equal(t, 0, f.store.IndexSize())

	// The fragment waits in staging under its correlation ID.
	parked, err := f.staging.Get(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeParked, parked.Reason)

	// Parked outcomes still appear in the replay history.
	assert.Equal(t, 1, f.replay.Len("employee"))
}

func TestRequireManualReviewParksConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, employeeRequest(map[string]any{"employee_id": "E-1"}))
	require.NoError(t, err)
	_, err = f.pipeline.Run(ctx, employeeRequest(map[string]any{"email": "ada@example.com"}))
	require.NoError(t, err)

	request := employeeRequest(map[string]any{"employee_id": "E-1", "email": "ada@example.com"})
	request.MergePosture = records.RequireManualReview

	result, err := f.pipeline.Run(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, records.OutcomeRequiresReview, result.Outcome)
	require.Len(t, result.Conflicts, 2)

	// The parked fragment is retrievable by each conflicting ID.
	for _, id := range result.Conflicts {
		parked, err := f.staging.ListByConflict(ctx, id)
		require.NoError(t, err)
		require.Len(t, parked, 1)
		assert.Equal(t, result.CorrelationID, parked[0].CorrelationID)
	}
}

func TestProjectionErrorPropagates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline.Register(PhaseProjection, NewStep("boom", func(context.Context, *Context) error {
		return errors.New("projection failed")
	})))

	_, err := f.pipeline.Run(context.Background(), employeeRequest(map[string]any{"employee_id": "E-1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projection failed")
}

func TestDistributionAlwaysRuns(t *testing.T) {
	f := newFixture(t)

	var sawSkipFlag bool
	ran := 0
	require.NoError(t, f.pipeline.Register(PhaseDistribution, NewStep("emit", func(_ context.Context, pc *Context) error {
		ran++
		sawSkipFlag = pc.Request.SkipDistribution
		return nil
	})))

	request := employeeRequest(map[string]any{"employee_id": "E-1"})
	request.SkipDistribution = true

	_, err := f.pipeline.Run(context.Background(), request)
	require.NoError(t, err)

	// The flag is advisory: the step still ran and could read it.
	assert.Equal(t, 1, ran)
	assert.True(t, sawSkipFlag)
}

func TestProjectionViewsReachResult(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline.Register(PhaseProjection, NewStep("directory-view", func(_ context.Context, pc *Context) error {
		name, _ := pc.Record.Field("name")
		pc.Views["directory"] = map[string]any{"display_name": name}
		return nil
	})))

	result, err := f.pipeline.Run(context.Background(), employeeRequest(map[string]any{"employee_id": "E-1", "name": "Ada"}))
	require.NoError(t, err)
	require.Contains(t, result.Views, "directory")
}

func TestTagOverridesReachRecord(t *testing.T) {
	f := newFixture(t)

	request := employeeRequest(map[string]any{"employee_id": "E-1"})
	request.TagOverrides = map[string]string{"region": "eu"}

	result, err := f.pipeline.Run(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "eu", result.Record.Tags["region"])
}
