// Package pipeline orchestrates canonization as six ordered phases: Intake,
// Validation, Aggregation, Policy, Projection, Distribution. Aggregation and
// Policy are framework-reserved: they execute exactly the identity resolver
// and the policy engine, and no contributor step may run inside, reorder, or
// skip them. The other four phases are open extension points whose steps run
// in registration order.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/identity"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/policy"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

// Phase names one pipeline stage.
type Phase string

// The six phases in fixed execution order. The pipeline is terminal after
// Distribution.
const (
	PhaseIntake       Phase = "Intake"
	PhaseValidation   Phase = "Validation"
	PhaseAggregation  Phase = "Aggregation"
	PhasePolicy       Phase = "Policy"
	PhaseProjection   Phase = "Projection"
	PhaseDistribution Phase = "Distribution"
)

// Order is the fixed phase order.
var Order = []Phase{PhaseIntake, PhaseValidation, PhaseAggregation, PhasePolicy, PhaseProjection, PhaseDistribution}

// Reserved reports whether the phase is framework-owned.
func (p Phase) Reserved() bool {
	return p == PhaseAggregation || p == PhasePolicy
}

// Step is a contributor extension point. Steps must be idempotent: the
// pipeline may be re-invoked for replay or rebuild operations.
// Non-idempotent side effects belong behind asynchronous consumers of
// Distribution-phase events, never inline.
type Step interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	name string
	fn   func(ctx context.Context, pc *Context) error
}

// NewStep creates a named step from a function.
func NewStep(name string, fn func(ctx context.Context, pc *Context) error) Step {
	return StepFunc{name: name, fn: fn}
}

// Name returns the step name.
func (s StepFunc) Name() string { return s.name }

// Run invokes the step function.
func (s StepFunc) Run(ctx context.Context, pc *Context) error { return s.fn(ctx, pc) }

// Context is the canonization state flowing through the phases. Steps read
// and extend it; the reserved phases populate Resolution, Record, and
// Footprints.
type Context struct {
	Request    *records.Request
	Resolution *identity.Resolution
	Record     *records.CanonicalRecord
	Footprints []records.Footprint

	// Views collects projection outputs keyed by requested view name.
	Views map[string]any
}

// EntityDefinition declares how one entity type canonizes: which fields are
// aggregation keys and which policies govern its fields.
type EntityDefinition struct {
	Keys     []string
	Policies policy.Set
}

// Config wires a pipeline's collaborators.
type Config struct {
	Entities map[string]EntityDefinition
	Resolver *identity.Resolver
	Engine   *policy.Engine
	Gate     *staging.Gate
	Recorder *audit.Recorder
	Replay   *audit.ReplayBuffer
	Store    records.Store

	// Posture is the default merge posture for requests that do not set one.
	Posture records.MergePosture

	Logger *zerolog.Logger
}

// Pipeline runs canonization requests through the six phases.
type Pipeline struct {
	entities map[string]EntityDefinition
	resolver *identity.Resolver
	engine   *policy.Engine
	gate     *staging.Gate
	recorder *audit.Recorder
	replay   *audit.ReplayBuffer
	store    records.Store
	posture  records.MergePosture
	steps    map[Phase][]Step
	logger   *zerolog.Logger
}

// New creates a pipeline from its collaborators.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	posture := cfg.Posture
	if posture == "" {
		posture = records.AutoUnion
	}
	return &Pipeline{
		entities: cfg.Entities,
		resolver: cfg.Resolver,
		engine:   cfg.Engine,
		gate:     cfg.Gate,
		recorder: cfg.Recorder,
		replay:   cfg.Replay,
		store:    cfg.Store,
		posture:  posture,
		steps:    make(map[Phase][]Step),
		logger:   logger,
	}
}

// Register appends a contributor step to an open phase. Registering into
// Aggregation or Policy fails with ErrReservedPhase.
func (p *Pipeline) Register(phase Phase, step Step) error {
	if phase.Reserved() {
		return fmt.Errorf("registering step %q in phase %s: %w", step.Name(), phase, errors.ErrReservedPhase)
	}
	switch phase {
	case PhaseIntake, PhaseValidation, PhaseProjection, PhaseDistribution:
	default:
		return fmt.Errorf("registering step %q: unknown phase %q", step.Name(), phase)
	}
	p.steps[phase] = append(p.steps[phase], step)
	return nil
}

// Steps returns the registered contributor steps for a phase, in
// registration order.
func (p *Pipeline) Steps(phase Phase) []Step {
	return p.steps[phase]
}

// Run canonizes one request. Phases run sequentially with no internal
// parallelism; cancellation is honored at phase boundaries.
func (p *Pipeline) Run(ctx context.Context, request *records.Request) (*records.Result, error) {
	definition, ok := p.entities[request.Fragment.EntityType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEntityType, request.Fragment.EntityType)
	}

	if request.CorrelationID == "" {
		request.CorrelationID = uuid.Must(uuid.NewV7()).String()
	}
	if request.MergePosture == "" {
		request.MergePosture = p.posture
	}

	pc := &Context{Request: request, Views: make(map[string]any)}
	ctx = logging.WithCorrelationID(ctx, request.CorrelationID)

	// Intake and Validation run before any write; an error aborts the
	// pipeline immediately.
	if err := p.runSteps(ctx, PhaseIntake, pc, nil); err != nil {
		return nil, err
	}
	if err := p.runSteps(ctx, PhaseValidation, pc, wrapValidation); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if request.StageBehavior == records.StageOnly {
		result, err := p.gate.Park(ctx, request)
		if err != nil {
			return nil, err
		}
		p.record(result, request)
		return result, nil
	}

	// Aggregation: framework-reserved, executes exactly the identity graph
	// resolver.
	resolution, err := p.resolver.Resolve(ctx, request.Fragment, definition.Keys, request.MergePosture)
	if err != nil {
		return nil, err
	}
	pc.Resolution = resolution

	if resolution.Outcome == records.OutcomeRequiresReview {
		result, err := p.gate.ParkForReview(ctx, request, resolution.Conflicts, resolution.ConflictingKeys)
		if err != nil {
			return nil, err
		}
		p.record(result, request)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Policy: framework-reserved, executes exactly the policy engine and
	// commits the record.
	pc.Record = resolution.Record
	pc.Footprints = p.engine.Apply(pc.Record, definition.Policies, request.Fragment, request.Origin)
	for key, value := range request.TagOverrides {
		pc.Record.SetTag(key, value)
	}
	pc.Record.UpdatedAt = time.Now().UTC()

	// The audit entry precedes the commit so a failed canonization never
	// leaves uncommitted-but-unaudited state.
	if err := p.recorder.Record(ctx, audit.Entry{
		CanonicalID: pc.Record.ID,
		Phase:       string(PhasePolicy),
		Event:       audit.EventRecordCanonized,
		Evidence: map[string]string{
			"outcome":       string(resolution.Outcome),
			"origin":        request.Origin,
			"correlationId": request.CorrelationID,
			"fieldsTouched": strconv.Itoa(len(pc.Footprints)),
		},
	}); err != nil {
		return nil, err
	}
	if err := p.store.PutRecord(ctx, pc.Record); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Projection and Distribution errors propagate to the caller; they are
	// not swallowed.
	if err := p.runSteps(ctx, PhaseProjection, pc, nil); err != nil {
		return nil, err
	}

	// Distribution steps always execute; the request's skip-distribution
	// flag is advisory metadata visible to steps, never a short-circuit.
	if err := p.runSteps(ctx, PhaseDistribution, pc, nil); err != nil {
		return nil, err
	}

	result := &records.Result{
		Outcome:       resolution.Outcome,
		CanonicalID:   pc.Record.ID,
		CorrelationID: request.CorrelationID,
		Record:        pc.Record,
		Footprints:    pc.Footprints,
		MergedFrom:    resolution.MergedFrom,
		Views:         pc.Views,
	}
	p.record(result, request)
	return result, nil
}

// runSteps executes a phase's contributor steps in registration order.
func (p *Pipeline) runSteps(ctx context.Context, phase Phase, pc *Context, wrap func(Step, error) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, step := range p.steps[phase] {
		if err := step.Run(ctx, pc); err != nil {
			if wrap != nil {
				err = wrap(step, err)
			}
			p.logger.Error().
				Err(err).
				Str("phase", string(phase)).
				Str("step", step.Name()).
				Msg("Pipeline step failed")
			return err
		}
	}
	return nil
}

// wrapValidation classifies Validation-phase step failures.
func wrapValidation(step Step, err error) error {
	if errors.IsValidation(err) {
		return err
	}
	return errors.NewValidationError(step.Name(), err.Error(), err)
}

// record appends the canonization event to the replay history.
func (p *Pipeline) record(result *records.Result, request *records.Request) {
	p.replay.Append(audit.ReplayEvent{
		CanonicalID:   result.CanonicalID,
		EntityType:    request.Fragment.EntityType,
		Outcome:       result.Outcome,
		Origin:        request.Origin,
		CorrelationID: request.CorrelationID,
	})
}
