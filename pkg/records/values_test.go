package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareValues(t *testing.T) {
	earlier := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"ints", 1, 2, -1},
		{"mixed numeric widths", int32(5), int64(5), 0},
		{"float beats int value", 2.5, 2, 1},
		{"times", earlier, later, -1},
		{"time against rfc3339 string", later, earlier.Format(time.RFC3339Nano), 1},
		{"strings", "alpha", "beta", -1},
		{"equal strings", "same", "same", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareValues(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareValuesIncomparable(t *testing.T) {
	_, err := CompareValues(1, "one")
	assert.Error(t, err)

	_, err = CompareValues(true, false)
	assert.Error(t, err)

	_, err = CompareValues("2025-03-01T12:00:00Z", 7)
	assert.Error(t, err)
}

func TestFragmentKeys(t *testing.T) {
	fragment := Fragment{
		EntityType: "employee",
		Values: map[string]any{
			"employee_id": "E-100",
			"email":       nil,
			"name":        "Ada",
		},
	}

	keys := fragment.Keys([]string{"employee_id", "email", "badge"})
	assert.Equal(t, []AggregationKey{{Name: "employee_id", Value: "E-100"}}, keys)
}

func TestKeyValueRendersTimesCanonically(t *testing.T) {
	instant := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-03-01T11:00:00Z", KeyValue(instant))
	assert.Equal(t, "42", KeyValue(42))
}
