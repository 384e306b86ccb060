package records

import (
	"fmt"
	"sort"
	"time"
)

// Fragment is a partial observation of an entity from one source. A key
// missing from Values is absent; a key present with a nil value is an
// explicit null. Neither ever overwrites a stored non-null value.
type Fragment struct {
	EntityType string         `json:"entity_type" yaml:"entity_type"`
	Values     map[string]any `json:"values" yaml:"values"`
}

// AggregationKey is one (key name, key value) pair extracted from a fragment.
// Its value is the canonical string form used by the aggregation key index.
type AggregationKey struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Keys extracts the non-null declared key values from the fragment in
// declaration order. An empty result means the fragment cannot be resolved
// to an identity.
func (f Fragment) Keys(declared []string) []AggregationKey {
	keys := make([]AggregationKey, 0, len(declared))
	for _, name := range declared {
		v, ok := f.Values[name]
		if !ok || v == nil {
			continue
		}
		keys = append(keys, AggregationKey{Name: name, Value: KeyValue(v)})
	}
	return keys
}

// TouchedFields returns the fragment's field names in sorted order, including
// explicit nulls. Policy evaluation visits fields deterministically.
func (f Fragment) TouchedFields() []string {
	fields := make([]string, 0, len(f.Values))
	for name := range f.Values {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// KeyValue renders a fragment value in the canonical string form used for
// index rows. Times use RFC 3339 so equal instants index identically.
func KeyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
