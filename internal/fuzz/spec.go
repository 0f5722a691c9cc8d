// Package fuzz implements the fuzz-interception seam: an optional,
// read-only FuzzSpec consulted by the message builder at build time, and
// a small set of named byte-level mutation strategies (bitflip,
// increment, extension-defined) applied to individual message fields.
//
// Composition, not inheritance: a Builder holds an optional *Spec and
// consults it while assembling outbound bytes. There is no base
// "fuzzable message" type — any message kind this speaker builds can
// have a Spec entry.
package fuzz

// Kind names the four fuzzable message kinds, matching RFC 4271
// terminology as used by this speaker's external FuzzSpec format.
const (
	KindOpen         = "BGPOpen"
	KindKeepalive    = "BGPKeepalive"
	KindUpdate       = "BGPUpdate"
	KindNotification = "BGPNotification"
)

// FieldFuzz describes the fuzz configuration for a single field of a
// single message kind.
type FieldFuzz struct {
	// Enabled gates whether this field is touched at all.
	Enabled bool

	// UseDefault, when true, leaves the field's value as assembled by the
	// builder before strategies are applied. When false, BaseValue
	// replaces the field's octets first.
	UseDefault bool

	// BaseValue is the literal replacement value, used when UseDefault is
	// false. Its length must match the field's natural width for
	// fixed-width fields; variable-width fields accept any length.
	BaseValue []byte

	// Strategies names mutation strategies applied in order, after
	// BaseValue substitution (if any).
	Strategies []string
}

// Spec is a mapping from message kind to field name to FieldFuzz. It is
// shared read-only between the session and the caller that configured
// it: callers replace it wholesale (pointer swap) rather than mutating a
// live Spec in place.
type Spec map[string]map[string]FieldFuzz

// fieldOf returns the FieldFuzz for kind/field and whether the caller
// declared it at all. A nil Spec (no fuzzing attached) always returns
// ok == false.
func (s Spec) fieldOf(kind, field string) (FieldFuzz, bool) {
	if s == nil {
		return FieldFuzz{}, false
	}
	fields, ok := s[kind]
	if !ok {
		return FieldFuzz{}, false
	}
	ff, ok := fields[field]
	return ff, ok
}
