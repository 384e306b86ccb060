// Package audit provides the durable evidence trail and the bounded
// in-memory replay history of the meridian engine. Audit writes are
// fail-closed: a sink failure aborts the canonization it describes. The
// replay buffer is explicitly lossy and is not the durable trail.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-data/meridian/pkg/errors"
	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/records"
)

// Event types recorded by the engine.
const (
	// EventIdentityMerge records a canonical-ID union. Exactly one entry is
	// written per merge.
	EventIdentityMerge = "IdentityMerge"

	// EventRecordCanonized records a committed canonization.
	EventRecordCanonized = "RecordCanonized"
)

// Entry is one append-only audit record.
type Entry struct {
	CanonicalID records.CanonicalID `json:"canonical_id"`
	Phase       string              `json:"phase"`
	Event       string              `json:"event"`
	Evidence    map[string]string   `json:"evidence"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Sink is the external audit collaborator. One durable write call is made
// per entry. Implementations needing retry, circuit-breaking, or best-effort
// queueing wrap this interface themselves; the engine performs no internal
// retries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Recorder routes entries to a sink, fail-closed. A write failure surfaces
// as an AuditWriteError and is fatal to the enclosing canonization, so no
// uncommitted-but-unaudited state exists.
type Recorder struct {
	sink   Sink
	logger *zerolog.Logger
}

// NewRecorder creates a recorder over a sink.
func NewRecorder(sink Sink, logger *zerolog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record writes one entry to the sink, stamping the time if unset.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := r.sink.Write(ctx, entry); err != nil {
		r.logger.Error().
			Err(err).
			Str("canonical_id", entry.CanonicalID.String()).
			Str("phase", entry.Phase).
			Str("event", entry.Event).
			Msg("Audit sink write failed")
		return errors.NewAuditWriteError(entry.CanonicalID.String(), entry.Phase, entry.Event, err)
	}

	r.logger.Debug().
		Str("canonical_id", entry.CanonicalID.String()).
		Str("phase", entry.Phase).
		Str("event", entry.Event).
		Msg("Audit entry recorded")
	return nil
}
