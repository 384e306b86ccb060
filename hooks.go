package meridian

import (
	"sync"

	"github.com/meridian-data/meridian/pkg/records"
)

// Hook function types for canonization events.
type (
	// RecordCreatedHook is called when a canonization creates a new
	// canonical record.
	RecordCreatedHook func(record *records.CanonicalRecord)

	// RecordUpdatedHook is called when a canonization updates an existing
	// canonical record.
	RecordUpdatedHook func(record *records.CanonicalRecord)

	// RecordsMergedHook is called when a canonization unifies split
	// identities into one surviving record.
	RecordsMergedHook func(survivor records.CanonicalID, merged []records.CanonicalID)
)

// hooks manages event callbacks for canonization outcomes.
type hooks struct {
	mu              sync.RWMutex
	onRecordCreated []RecordCreatedHook
	onRecordUpdated []RecordUpdatedHook
	onRecordsMerged []RecordsMergedHook
}

// newHooks creates a new hooks instance.
func newHooks() *hooks {
	return &hooks{}
}

// OnRecordCreated registers a callback for record creations.
func (h *hooks) OnRecordCreated(fn RecordCreatedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecordCreated = append(h.onRecordCreated, fn)
}

// OnRecordUpdated registers a callback for record updates.
func (h *hooks) OnRecordUpdated(fn RecordUpdatedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecordUpdated = append(h.onRecordUpdated, fn)
}

// OnRecordsMerged registers a callback for identity unions.
func (h *hooks) OnRecordsMerged(fn RecordsMergedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecordsMerged = append(h.onRecordsMerged, fn)
}

// trigger fires the hooks matching a terminal canonization result. Hooks run
// synchronously after the commit; non-idempotent side effects belong in
// Distribution consumers instead.
func (h *hooks) trigger(result *records.Result) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(result.MergedFrom) > 0 {
		for _, hook := range h.onRecordsMerged {
			hook(result.CanonicalID, result.MergedFrom)
		}
	}

	switch result.Outcome {
	case records.OutcomeCreated:
		for _, hook := range h.onRecordCreated {
			hook(result.Record)
		}
	case records.OutcomeUpdated:
		for _, hook := range h.onRecordUpdated {
			hook(result.Record)
		}
	}
}
