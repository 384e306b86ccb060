// Package meridian assembles the canonicalization engine: fragments from
// disparate origins are resolved to canonical identities, merged field by
// field under declared policies, and committed with a durable audit trail.
package meridian

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/meridian-data/meridian/internal/metrics"
	"github.com/meridian-data/meridian/internal/store/memory"
	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/identity"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/pipeline"
	"github.com/meridian-data/meridian/pkg/policy"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

// Engine canonizes record fragments with identity resolution, policy
// merging, and event hooks.
type Engine interface {
	// Canonize runs one request through the six canonization phases.
	Canonize(ctx context.Context, request *records.Request) (*records.Result, error)

	// Register appends a contributor step to an open pipeline phase.
	Register(phase pipeline.Phase, step pipeline.Step) error

	// Record returns the canonical record for an ID, following superseded
	// redirects to the surviving record.
	Record(ctx context.Context, id records.CanonicalID) (*records.CanonicalRecord, error)

	// Parked returns the parked fragment for a correlation ID.
	Parked(ctx context.Context, correlationID string) (*staging.ParkedFragment, error)

	// Replay iterates the retained canonization history for an entity type,
	// oldest first, bounded by the optional time window.
	Replay(entityType string, from, to time.Time) iter.Seq[audit.ReplayEvent]

	// Entities returns the declared entity definitions.
	Entities() map[string]pipeline.EntityDefinition

	// OnRecordCreated registers a callback for record creations.
	OnRecordCreated(RecordCreatedHook)

	// OnRecordUpdated registers a callback for record updates.
	OnRecordUpdated(RecordUpdatedHook)

	// OnRecordsMerged registers a callback for identity unions.
	OnRecordsMerged(RecordsMergedHook)
}

// engine is the internal implementation of the Engine interface.
type engine struct {
	entities map[string]pipeline.EntityDefinition
	pipeline *pipeline.Pipeline
	store    records.Store
	staging  staging.Store
	replay   *audit.ReplayBuffer
	metrics  *metrics.Metrics
	hooks    *hooks
}

// New creates an Engine with the given options. Unset collaborators default
// to in-memory implementations; entity policy sets are validated here so a
// bad declaration never reaches a request.
func New(opts ...Option) (Engine, error) {
	cfg := &config{
		entities: make(map[string]pipeline.EntityDefinition),
		posture:  records.AutoUnion,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	if cfg.store == nil {
		cfg.store = memory.NewStore()
	}
	if cfg.stagingStore == nil {
		cfg.stagingStore = memory.NewStagingStore()
	}
	if cfg.auditSink == nil {
		cfg.auditSink = memory.NewAuditSink()
	}
	if cfg.logger == nil {
		cfg.logger = logging.Default()
	}

	for entityType, definition := range cfg.entities {
		if len(definition.Keys) == 0 {
			return nil, errors.NewConfigurationError("entities", entityType, "at least one aggregation key is required")
		}
		if err := definition.Policies.Validate(); err != nil {
			return nil, fmt.Errorf("entity %s: %w", entityType, err)
		}
	}

	recorder := audit.NewRecorder(cfg.auditSink, cfg.logger)
	replay := audit.NewReplayBuffer(cfg.replayCapacity)

	e := &engine{
		entities: cfg.entities,
		store:    cfg.store,
		staging:  cfg.stagingStore,
		replay:   replay,
		metrics:  cfg.metrics,
		hooks:    newHooks(),
	}
	e.pipeline = pipeline.New(pipeline.Config{
		Entities: cfg.entities,
		Resolver: identity.NewResolver(cfg.store, recorder, cfg.logger),
		Engine:   policy.NewEngine(cfg.logger),
		Gate:     staging.NewGate(cfg.stagingStore, cfg.logger),
		Recorder: recorder,
		Replay:   replay,
		Store:    cfg.store,
		Posture:  cfg.posture,
		Logger:   cfg.logger,
	})
	return e, nil
}

// Canonize runs one request through the six canonization phases.
func (e *engine) Canonize(ctx context.Context, request *records.Request) (*records.Result, error) {
	start := time.Now()
	result, err := e.pipeline.Run(ctx, request)
	e.metrics.ObserveCanonizeLatency(request.Fragment.EntityType, time.Since(start))
	if err != nil {
		if errors.IsAuditWrite(err) {
			e.metrics.IncrementAuditFailure()
		}
		return nil, err
	}

	e.metrics.IncrementCanonization(request.Fragment.EntityType, string(result.Outcome))
	if len(result.MergedFrom) > 0 {
		e.metrics.IncrementUnion(request.Fragment.EntityType)
	}
	e.hooks.trigger(result)
	return result, nil
}

// Register appends a contributor step to an open pipeline phase.
func (e *engine) Register(phase pipeline.Phase, step pipeline.Step) error {
	return e.pipeline.Register(phase, step)
}

// Record returns the canonical record for an ID, following superseded
// redirects.
func (e *engine) Record(ctx context.Context, id records.CanonicalID) (*records.CanonicalRecord, error) {
	return records.Resolve(ctx, e.store, id)
}

// Parked returns the parked fragment for a correlation ID.
func (e *engine) Parked(ctx context.Context, correlationID string) (*staging.ParkedFragment, error) {
	return e.staging.Get(ctx, correlationID)
}

// Replay iterates the retained canonization history for an entity type.
func (e *engine) Replay(entityType string, from, to time.Time) iter.Seq[audit.ReplayEvent] {
	return e.replay.Range(entityType, from, to)
}

// Entities returns a copy of the declared entity definitions.
func (e *engine) Entities() map[string]pipeline.EntityDefinition {
	definitions := make(map[string]pipeline.EntityDefinition, len(e.entities))
	for entityType, definition := range e.entities {
		definitions[entityType] = definition
	}
	return definitions
}

// OnRecordCreated registers a callback for record creations.
func (e *engine) OnRecordCreated(fn RecordCreatedHook) { e.hooks.OnRecordCreated(fn) }

// OnRecordUpdated registers a callback for record updates.
func (e *engine) OnRecordUpdated(fn RecordUpdatedHook) { e.hooks.OnRecordUpdated(fn) }

// OnRecordsMerged registers a callback for identity unions.
func (e *engine) OnRecordsMerged(fn RecordsMergedHook) { e.hooks.OnRecordsMerged(fn) }

// policySet converts a plain field-to-kind map into a policy set.
func policySet(kinds map[string]string) policy.Set {
	set := make(policy.Set, len(kinds))
	for field, kind := range kinds {
		set[field] = policy.Descriptor{Kind: policy.Kind(kind)}
	}
	return set
}
