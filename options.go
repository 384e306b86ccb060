package meridian

import (
	"github.com/rs/zerolog"

	"github.com/meridian-data/meridian/internal/metrics"
	"github.com/meridian-data/meridian/pkg/audit"
	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/pipeline"
	"github.com/meridian-data/meridian/pkg/records"
	"github.com/meridian-data/meridian/pkg/staging"
)

// Option is a function that configures an Engine instance.
type Option func(*config) error

// config collects the collaborators an Engine is assembled from. Unset
// collaborators default to their in-memory implementations.
type config struct {
	entities       map[string]pipeline.EntityDefinition
	store          records.Store
	stagingStore   staging.Store
	auditSink      audit.Sink
	replayCapacity int
	posture        records.MergePosture
	logger         *zerolog.Logger
	metrics        *metrics.Metrics
}

// WithEntity declares one entity type: its aggregation keys and the policies
// governing its fields. The policy set is validated when the Engine is built.
func WithEntity(entityType string, keys []string, policies map[string]string) Option {
	return func(c *config) error {
		definition := pipeline.EntityDefinition{Keys: keys, Policies: policySet(policies)}
		c.entities[entityType] = definition
		return nil
	}
}

// WithEntityDefinition declares one entity type from a full definition,
// including SourceOfTruth authorities and fallbacks.
func WithEntityDefinition(entityType string, definition pipeline.EntityDefinition) Option {
	return func(c *config) error {
		c.entities[entityType] = definition
		return nil
	}
}

// WithEntityDefinitions declares a full entity map at once, typically loaded
// from configuration.
func WithEntityDefinitions(definitions map[string]pipeline.EntityDefinition) Option {
	return func(c *config) error {
		for entityType, definition := range definitions {
			c.entities[entityType] = definition
		}
		return nil
	}
}

// WithStore configures the persistence collaborator.
func WithStore(store records.Store) Option {
	return func(c *config) error {
		if store == nil {
			return errors.NewConfigurationError("engine", "store", "store must not be nil")
		}
		c.store = store
		return nil
	}
}

// WithStagingStore configures the staging collaborator.
func WithStagingStore(store staging.Store) Option {
	return func(c *config) error {
		if store == nil {
			return errors.NewConfigurationError("engine", "staging", "staging store must not be nil")
		}
		c.stagingStore = store
		return nil
	}
}

// WithAuditSink configures the durable audit sink. Sink failures fail their
// canonization.
func WithAuditSink(sink audit.Sink) Option {
	return func(c *config) error {
		if sink == nil {
			return errors.NewConfigurationError("engine", "audit", "audit sink must not be nil")
		}
		c.auditSink = sink
		return nil
	}
}

// WithReplayCapacity bounds the per-entity-type replay history. Values of
// zero or below select the default capacity.
func WithReplayCapacity(capacity int) Option {
	return func(c *config) error {
		c.replayCapacity = capacity
		return nil
	}
}

// WithMergePosture sets the default split-identity posture for requests that
// do not carry one.
func WithMergePosture(posture records.MergePosture) Option {
	return func(c *config) error {
		switch posture {
		case records.AutoUnion, records.RequireManualReview:
			c.posture = posture
			return nil
		default:
			return errors.NewConfigurationError("engine", "merge_posture", "unknown merge posture "+string(posture))
		}
	}
}

// WithLogger configures the engine's logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics wires Prometheus collectors into the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}
