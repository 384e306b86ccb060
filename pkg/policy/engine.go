package policy

import (
	"github.com/rs/zerolog"

	"github.com/meridian-data/meridian/pkg/logging"
	"github.com/meridian-data/meridian/pkg/records"
)

// Engine resolves per-field conflicts between a record's existing values and
// an incoming fragment, producing one footprint per touched field.
type Engine struct {
	logger *zerolog.Logger
}

// NewEngine creates a policy engine.
func NewEngine(logger *zerolog.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{logger: logger}
}

// Apply evaluates the fragment against the record under the policy set and
// mutates the record in place. Fields without a declared policy resolve
// under Latest. A null/absent incoming value never overwrites an existing
// non-null value, under any policy kind.
func (e *Engine) Apply(record *records.CanonicalRecord, policies Set, fragment records.Fragment, origin string) []records.Footprint {
	footprints := make([]records.Footprint, 0, len(fragment.Values))

	for _, field := range fragment.TouchedFields() {
		descriptor, declared := policies[field]
		if !declared {
			descriptor = Descriptor{Kind: Latest}
		}

		fp := e.applyField(record, field, descriptor, fragment.Values[field], origin)
		footprints = append(footprints, fp)

		e.logger.Debug().
			Str("entity_type", record.EntityType).
			Str("canonical_id", record.ID.String()).
			Str("field", field).
			Str("kind", fp.Kind).
			Str("evidence", string(fp.Evidence)).
			Bool("applied", fp.Applied).
			Msg("Field policy evaluated")
	}

	return footprints
}

// applyField resolves one field and returns its footprint.
func (e *Engine) applyField(record *records.CanonicalRecord, field string, descriptor Descriptor, incoming any, origin string) records.Footprint {
	existing, hasExisting := record.Field(field)

	// Null preservation applies before any policy kind.
	if incoming == nil {
		return records.Footprint{
			Field:         field,
			Kind:          string(descriptor.Kind),
			WinningSource: e.retainedSource(record, field, hasExisting),
			Evidence:      records.EvidenceExisting,
			Applied:       false,
		}
	}

	if descriptor.Kind == SourceOfTruth {
		return e.applySourceOfTruth(record, field, descriptor, incoming, existing, hasExisting, origin)
	}

	wins := resolve(descriptor.Kind, incoming, existing, hasExisting)
	return e.commit(record, field, string(descriptor.Kind), incoming, origin, wins, evidenceFor(wins), hasExisting)
}

// applySourceOfTruth implements authority semantics with a fallback chain.
func (e *Engine) applySourceOfTruth(record *records.CanonicalRecord, field string, descriptor Descriptor, incoming, existing any, hasExisting bool, origin string) records.Footprint {
	kind := string(SourceOfTruth)

	if descriptor.Authoritative(origin) {
		fp := e.commit(record, field, kind, incoming, origin, true, records.EvidenceIncoming, hasExisting)
		record.MarkAuthoritative(field, origin)
		return fp
	}

	if _, authoritative := record.AuthoritativeOrigin(field); authoritative && hasExisting {
		return records.Footprint{
			Field:         field,
			Kind:          kind,
			WinningSource: record.FieldSource(field),
			Evidence:      records.EvidenceExisting,
			Applied:       false,
		}
	}

	// No authoritative value yet and the origin is not an authority: the
	// fallback policy decides, and the evidence is fallback either way.
	wins := resolve(descriptor.fallbackKind(), incoming, existing, hasExisting)
	return e.commit(record, field, kind, incoming, origin, wins, records.EvidenceFallback, hasExisting)
}

// resolve decides whether the incoming value wins under a non-SourceOfTruth
// kind. The incoming value is known non-null.
func resolve(kind Kind, incoming, existing any, hasExisting bool) bool {
	switch kind {
	case Latest:
		return true
	case First:
		return !hasExisting
	case Min, Max:
		if !hasExisting {
			return true
		}
		cmp, err := records.CompareValues(incoming, existing)
		if err != nil {
			// Incomparable values keep the existing extremum.
			return false
		}
		if kind == Min {
			return cmp < 0
		}
		return cmp > 0
	default:
		return false
	}
}

// commit applies a winning value and builds the footprint.
func (e *Engine) commit(record *records.CanonicalRecord, field, kind string, incoming any, origin string, wins bool, evidence records.Evidence, hasExisting bool) records.Footprint {
	if wins {
		record.SetField(field, incoming, origin)
		return records.Footprint{
			Field:         field,
			Kind:          kind,
			WinningSource: origin,
			Evidence:      evidence,
			Applied:       true,
		}
	}
	return records.Footprint{
		Field:         field,
		Kind:          kind,
		WinningSource: e.retainedSource(record, field, hasExisting),
		Evidence:      evidence,
		Applied:       false,
	}
}

// retainedSource names the origin whose value is being kept.
func (e *Engine) retainedSource(record *records.CanonicalRecord, field string, hasExisting bool) string {
	if !hasExisting {
		return ""
	}
	return record.FieldSource(field)
}

// evidenceFor maps a win/keep decision to its evidence tag for
// non-SourceOfTruth kinds.
func evidenceFor(wins bool) records.Evidence {
	if wins {
		return records.EvidenceIncoming
	}
	return records.EvidenceExisting
}
