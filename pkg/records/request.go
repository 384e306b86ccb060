package records

// StageBehavior selects whether a fragment runs the full pipeline or is
// diverted to the staging area before Aggregation.
type StageBehavior string

const (
	// StageNormal runs the full pipeline to completion.
	StageNormal StageBehavior = "Normal"

	// StageOnly persists the fragment to the staging area; the Aggregation
	// and Policy phases do not execute.
	StageOnly StageBehavior = "StageOnly"
)

// MergePosture governs how split identities are handled.
type MergePosture string

const (
	// AutoUnion performs the lowest-ID-wins union immediately.
	AutoUnion MergePosture = "AutoUnion"

	// RequireManualReview parks the fragment with the conflicting IDs
	// attached instead of performing the union.
	RequireManualReview MergePosture = "RequireManualReview"
)

// Outcome is the terminal or deferred result of a canonization.
type Outcome string

const (
	// OutcomeCreated means a novel key set allocated a new canonical record.
	OutcomeCreated Outcome = "Created"

	// OutcomeUpdated means the fragment resolved to an existing record.
	OutcomeUpdated Outcome = "Updated"

	// OutcomeParked means the fragment was diverted to the staging area
	// (StageOnly). Non-terminal; requires external follow-up.
	OutcomeParked Outcome = "Parked"

	// OutcomeRequiresReview means a split identity was detected under
	// RequireManualReview. Non-terminal; requires manual resolution.
	OutcomeRequiresReview Outcome = "RequiresReview"
)

// Terminal reports whether the outcome is a terminal success state.
func (o Outcome) Terminal() bool {
	return o == OutcomeCreated || o == OutcomeUpdated
}

// Request is one canonization request: a fragment plus options.
type Request struct {
	Fragment Fragment `json:"fragment" yaml:"fragment"`

	// Origin is the source identifier the policy engine evaluates
	// authorities against.
	Origin string `json:"origin" yaml:"origin"`

	// CorrelationID ties the request to its audit trail and any parked
	// fragment. Assigned if empty.
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`

	// TagOverrides are merged into the canonical record's tag map on commit.
	TagOverrides map[string]string `json:"tag_overrides,omitempty" yaml:"tag_overrides,omitempty"`

	// StageBehavior defaults to StageNormal.
	StageBehavior StageBehavior `json:"stage_behavior,omitempty" yaml:"stage_behavior,omitempty"`

	// RequestedViews names the projections the caller wants built.
	RequestedViews []string `json:"requested_views,omitempty" yaml:"requested_views,omitempty"`

	// SkipDistribution is advisory metadata visible to Distribution-phase
	// steps. Distribution steps always execute; the flag never short-circuits
	// the phase.
	SkipDistribution bool `json:"skip_distribution,omitempty" yaml:"skip_distribution,omitempty"`

	// MergePosture defaults to the engine's configured posture when empty.
	MergePosture MergePosture `json:"merge_posture,omitempty" yaml:"merge_posture,omitempty"`
}

// Evidence classifies how a field's winning value was chosen.
type Evidence string

const (
	// EvidenceIncoming means the incoming value won.
	EvidenceIncoming Evidence = "incoming"

	// EvidenceExisting means the existing value was retained.
	EvidenceExisting Evidence = "existing"

	// EvidenceFallback means the fallback policy of a SourceOfTruth field
	// decided the value.
	EvidenceFallback Evidence = "fallback"
)

// Footprint records, per field and per canonization, which policy and source
// determined the field's current value. Produced fresh each canonization.
type Footprint struct {
	Field         string   `json:"field" yaml:"field"`
	Kind          string   `json:"kind" yaml:"kind"`
	WinningSource string   `json:"winning_source" yaml:"winning_source"`
	Evidence      Evidence `json:"evidence" yaml:"evidence"`

	// Applied is false for no-op decisions where the stored value did not
	// change (null incoming, First with an existing value, lost extremum).
	Applied bool `json:"applied" yaml:"applied"`
}

// Result is the synchronous outcome of a canonization.
type Result struct {
	Outcome       Outcome          `json:"outcome" yaml:"outcome"`
	CanonicalID   CanonicalID      `json:"canonical_id,omitempty" yaml:"canonical_id,omitempty"`
	CorrelationID string           `json:"correlation_id" yaml:"correlation_id"`
	Record        *CanonicalRecord `json:"record,omitempty" yaml:"record,omitempty"`
	Footprints    []Footprint      `json:"footprints,omitempty" yaml:"footprints,omitempty"`

	// MergedFrom lists records superseded by a union this canonization
	// performed.
	MergedFrom []CanonicalID `json:"merged_from,omitempty" yaml:"merged_from,omitempty"`

	// Conflicts carries the distinct canonical IDs of a split identity when
	// the outcome is RequiresReview.
	Conflicts []CanonicalID `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`

	// ConflictingKeys carries the fragment keys that resolved to conflicting
	// IDs when the outcome is RequiresReview.
	ConflictingKeys []AggregationKey `json:"conflicting_keys,omitempty" yaml:"conflicting_keys,omitempty"`

	// Views holds projection outputs keyed by requested view name.
	Views map[string]any `json:"views,omitempty" yaml:"views,omitempty"`
}
