// Package policy implements per-field conflict resolution for canonical
// records. Each field's policy is a tagged variant (kind, authority set,
// optional fallback) declared once at configuration time and immutable at
// runtime, so policy metadata can be introspected and queried generically.
package policy

import (
	"sort"

	"github.com/meridian-data/meridian/pkg/errors"
)

// Kind identifies a conflict-resolution policy.
type Kind string

const (
	// Latest lets any non-null incoming value replace the existing value,
	// regardless of origin.
	Latest Kind = "Latest"

	// First makes the existing value immutable once non-null.
	First Kind = "First"

	// Min keeps the smaller value under the field's natural ordering.
	Min Kind = "Min"

	// Max keeps the larger value under the field's natural ordering.
	Max Kind = "Max"

	// SourceOfTruth lets only declared authorities set the field; before an
	// authoritative value exists, the fallback policy decides.
	SourceOfTruth Kind = "SourceOfTruth"
)

// Known reports whether the kind is one of the declared policy kinds.
func (k Kind) Known() bool {
	switch k {
	case Latest, First, Min, Max, SourceOfTruth:
		return true
	default:
		return false
	}
}

// Descriptor is one field's declared policy.
type Descriptor struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Authorities names the sources permitted to set a SourceOfTruth field.
	// Non-empty iff Kind is SourceOfTruth.
	Authorities []string `json:"authorities,omitempty" yaml:"authorities,omitempty"`

	// Fallback is the policy applied for a SourceOfTruth field before any
	// authoritative value exists. Never SourceOfTruth itself. Defaults to
	// First when empty.
	Fallback Kind `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Authoritative reports whether origin is a declared authority.
func (d Descriptor) Authoritative(origin string) bool {
	for _, a := range d.Authorities {
		if a == origin {
			return true
		}
	}
	return false
}

// fallbackKind returns the effective fallback policy for a SourceOfTruth
// field.
func (d Descriptor) fallbackKind() Kind {
	if d.Fallback == "" {
		return First
	}
	return d.Fallback
}

// Set maps field names to their declared policies.
type Set map[string]Descriptor

// Fields returns the declared field names in sorted order.
func (s Set) Fields() []string {
	fields := make([]string, 0, len(s))
	for name := range s {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// Validate checks every declaration eagerly, so invalid policies fail at
// startup and never at request time.
func (s Set) Validate() error {
	for _, field := range s.Fields() {
		d := s[field]
		if !d.Kind.Known() {
			return errors.NewConfigurationError("policy", field, "unknown policy kind "+string(d.Kind))
		}
		if d.Kind == SourceOfTruth {
			if len(d.Authorities) == 0 {
				return errors.NewConfigurationError("policy", field, "SourceOfTruth requires at least one authority")
			}
			if d.Fallback == SourceOfTruth {
				return errors.NewConfigurationError("policy", field, "fallback policy must not be SourceOfTruth")
			}
			if d.Fallback != "" && !d.Fallback.Known() {
				return errors.NewConfigurationError("policy", field, "unknown fallback kind "+string(d.Fallback))
			}
			continue
		}
		if len(d.Authorities) > 0 {
			return errors.NewConfigurationError("policy", field, "authorities are only valid on SourceOfTruth")
		}
		if d.Fallback != "" {
			return errors.NewConfigurationError("policy", field, "fallback is only valid on SourceOfTruth")
		}
	}
	return nil
}
