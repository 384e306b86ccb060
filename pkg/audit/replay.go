package audit

import (
	"iter"
	"sync"
	"time"

	"github.com/meridian-data/meridian/pkg/records"
)

// DefaultReplayCapacity is the per-entity-type ring capacity when none is
// configured.
const DefaultReplayCapacity = 200

// ReplayEvent is one canonization event in the replay history.
type ReplayEvent struct {
	CanonicalID   records.CanonicalID `json:"canonical_id"`
	EntityType    string              `json:"entity_type"`
	Outcome       records.Outcome     `json:"outcome"`
	Origin        string              `json:"origin"`
	CorrelationID string              `json:"correlation_id"`
	Timestamp     time.Time           `json:"timestamp"`
}

// ReplayBuffer is a capacity-bounded, per-entity-type ring of canonization
// events. Inserting beyond capacity evicts the oldest event. The buffer is
// in-memory only and lossy by design; it is an injectable component, not
// ambient global state.
type ReplayBuffer struct {
	mu       sync.Mutex
	capacity int
	rings    map[string]*ring
}

// ring is a fixed-capacity circular buffer of events.
type ring struct {
	events []ReplayEvent
	start  int
	size   int
}

// NewReplayBuffer creates a buffer with the given per-entity-type capacity.
// Non-positive capacities use DefaultReplayCapacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &ReplayBuffer{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Capacity returns the configured per-entity-type capacity.
func (b *ReplayBuffer) Capacity() int {
	return b.capacity
}

// Append inserts an event into the entity type's ring, stamping the time if
// unset and evicting the oldest event on overflow.
func (b *ReplayBuffer) Append(event ReplayEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.rings[event.EntityType]
	if r == nil {
		r = &ring{events: make([]ReplayEvent, b.capacity)}
		b.rings[event.EntityType] = r
	}

	if r.size < b.capacity {
		r.events[(r.start+r.size)%b.capacity] = event
		r.size++
		return
	}
	r.events[r.start] = event
	r.start = (r.start + 1) % b.capacity
}

// Len returns the number of buffered events for an entity type.
func (b *ReplayBuffer) Len(entityType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r := b.rings[entityType]; r != nil {
		return r.size
	}
	return 0
}

// Range returns a lazy, finite, time-ordered sequence of the entity type's
// events within [from, to]. Zero bounds are open. The sequence iterates over
// a snapshot taken when Range is called.
func (b *ReplayBuffer) Range(entityType string, from, to time.Time) iter.Seq[ReplayEvent] {
	b.mu.Lock()
	r := b.rings[entityType]
	var snapshot []ReplayEvent
	if r != nil {
		snapshot = make([]ReplayEvent, 0, r.size)
		for i := 0; i < r.size; i++ {
			snapshot = append(snapshot, r.events[(r.start+i)%b.capacity])
		}
	}
	b.mu.Unlock()

	return func(yield func(ReplayEvent) bool) {
		for _, event := range snapshot {
			if !from.IsZero() && event.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && event.Timestamp.After(to) {
				continue
			}
			if !yield(event) {
				return
			}
		}
	}
}
