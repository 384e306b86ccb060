// Package staging diverts fragments into deferred states instead of
// committing them. Parked and RequiresReview are explicit non-terminal
// outcomes requiring external follow-up; the engine never retries them.
package staging

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/records"
)

// ParkedFragment is a fragment persisted to the staging area, either by
// request (StageOnly) or because a split identity needs manual review.
type ParkedFragment struct {
	CorrelationID string          `json:"correlation_id"`
	Request       records.Request `json:"request"`

	// Reason is OutcomeParked or OutcomeRequiresReview.
	Reason records.Outcome `json:"reason"`

	// Conflicts and ConflictingKeys are populated for RequiresReview parks
	// so a reviewer can resolve the split identity manually.
	Conflicts       []records.CanonicalID    `json:"conflicts,omitempty"`
	ConflictingKeys []records.AggregationKey `json:"conflicting_keys,omitempty"`

	ParkedAt time.Time `json:"parked_at"`
}

// Store is the staging collaborator: it persists parked fragments retrievable
// by correlation ID or by canonical-conflict reference.
type Store interface {
	// Park persists a parked fragment.
	Park(ctx context.Context, parked ParkedFragment) error

	// Get returns the parked fragment for a correlation ID, or ErrNotFound.
	Get(ctx context.Context, correlationID string) (*ParkedFragment, error)

	// ListByConflict returns parked fragments whose conflicts reference the
	// canonical ID.
	ListByConflict(ctx context.Context, id records.CanonicalID) ([]ParkedFragment, error)
}

// Gate parks fragments and builds their deferred results.
type Gate struct {
	store  Store
	logger *zerolog.Logger
}

// NewGate creates a staging gate over a store.
func NewGate(store Store, logger *zerolog.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{store: store, logger: logger}
}

// Park persists the request as a StageOnly park and returns the Parked
// result.
func (g *Gate) Park(ctx context.Context, request *records.Request) (*records.Result, error) {
	parked := ParkedFragment{
		CorrelationID: request.CorrelationID,
		Request:       *request,
		Reason:        records.OutcomeParked,
		ParkedAt:      time.Now().UTC(),
	}
	if err := g.store.Park(ctx, parked); err != nil {
		return nil, err
	}

	g.logger.Info().
		Str("correlation_id", request.CorrelationID).
		Str("entity_type", request.Fragment.EntityType).
		Msg("Fragment parked for staging")

	return &records.Result{
		Outcome:       records.OutcomeParked,
		CorrelationID: request.CorrelationID,
	}, nil
}

// ParkForReview persists the request with its split-identity conflicts
// attached and returns the RequiresReview result.
func (g *Gate) ParkForReview(ctx context.Context, request *records.Request, conflicts []records.CanonicalID, keys []records.AggregationKey) (*records.Result, error) {
	parked := ParkedFragment{
		CorrelationID:   request.CorrelationID,
		Request:         *request,
		Reason:          records.OutcomeRequiresReview,
		Conflicts:       conflicts,
		ConflictingKeys: keys,
		ParkedAt:        time.Now().UTC(),
	}
	if err := g.store.Park(ctx, parked); err != nil {
		return nil, err
	}

	g.logger.Warn().
		Str("correlation_id", request.CorrelationID).
		Str("entity_type", request.Fragment.EntityType).
		Int("conflicts", len(conflicts)).
		Msg("Split identity parked for manual review")

	return &records.Result{
		Outcome:         records.OutcomeRequiresReview,
		CorrelationID:   request.CorrelationID,
		Conflicts:       conflicts,
		ConflictingKeys: keys,
	}, nil
}
