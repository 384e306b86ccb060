package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-data/meridian/pkg/records"
)

func collect(events func(yield func(ReplayEvent) bool)) []ReplayEvent {
	var out []ReplayEvent
	for event := range events {
		out = append(out, event)
	}
	return out
}

func TestReplayBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultReplayCapacity, NewReplayBuffer(0).Capacity())
	assert.Equal(t, DefaultReplayCapacity, NewReplayBuffer(-5).Capacity())
	assert.Equal(t, 10, NewReplayBuffer(10).Capacity())
}

func TestReplayBufferEvictsOldest(t *testing.T) {
	buffer := NewReplayBuffer(3)
	for i := 0; i < 4; i++ {
		buffer.Append(ReplayEvent{
			EntityType:    "employee",
			CanonicalID:   records.CanonicalID(fmt.Sprintf("id-%d", i)),
			CorrelationID: fmt.Sprintf("corr-%d", i),
		})
	}

	require.Equal(t, 3, buffer.Len("employee"))

	events := collect(buffer.Range("employee", time.Time{}, time.Time{}))
	require.Len(t, events, 3)
	// The oldest event is gone; order is oldest first.
	assert.Equal(t, records.CanonicalID("id-1"), events[0].CanonicalID)
	assert.Equal(t, records.CanonicalID("id-3"), events[2].CanonicalID)
}

func TestReplayBufferIsolatesEntityTypes(t *testing.T) {
	buffer := NewReplayBuffer(2)
	buffer.Append(ReplayEvent{EntityType: "employee", CanonicalID: "e-1"})
	buffer.Append(ReplayEvent{EntityType: "listing", CanonicalID: "l-1"})
	buffer.Append(ReplayEvent{EntityType: "listing", CanonicalID: "l-2"})
	buffer.Append(ReplayEvent{EntityType: "listing", CanonicalID: "l-3"})

	// Filling the listing ring does not evict employee events.
	assert.Equal(t, 1, buffer.Len("employee"))
	assert.Equal(t, 2, buffer.Len("listing"))
}

func TestReplayBufferRangeWindow(t *testing.T) {
	buffer := NewReplayBuffer(10)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		buffer.Append(ReplayEvent{
			EntityType:  "employee",
			CanonicalID: records.CanonicalID(fmt.Sprintf("id-%d", i)),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	events := collect(buffer.Range("employee", base.Add(time.Minute), base.Add(3*time.Minute)))
	require.Len(t, events, 3)
	assert.Equal(t, records.CanonicalID("id-1"), events[0].CanonicalID)
	assert.Equal(t, records.CanonicalID("id-3"), events[2].CanonicalID)

	// Zero bounds are open.
	assert.Len(t, collect(buffer.Range("employee", time.Time{}, time.Time{})), 5)
	assert.Empty(t, collect(buffer.Range("unknown", time.Time{}, time.Time{})))
}

func TestReplayBufferStampsTimestamps(t *testing.T) {
	buffer := NewReplayBuffer(2)
	buffer.Append(ReplayEvent{EntityType: "employee", CanonicalID: "e-1"})

	events := collect(buffer.Range("employee", time.Time{}, time.Time{}))
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}
