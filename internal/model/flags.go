package model

import (
	"encoding/json"
	"sort"
)

// QualityFlag is an additive marker attached to a field or record. Flags are
// never silently cleared; clearing requires an explicit successful
// re-resolution event (see FlagSet.Clear).
type QualityFlag string

const (
	FlagParseFailed          QualityFlag = "parse-failed"
	FlagAmbiguousDate        QualityFlag = "ambiguous-date"
	FlagAmbiguousTermString  QualityFlag = "ambiguous-term-string"
	FlagRemainingUnavailable QualityFlag = "remaining-years-unavailable"
	FlagDateOutOfRange       QualityFlag = "date-out-of-range"
	FlagCrossSourceConflict  QualityFlag = "cross-source-conflict"
	FlagRuleCorrected        QualityFlag = "rule-corrected"
	FlagRuleConflict         QualityFlag = "rule-conflict"
	FlagAssistantResolved    QualityFlag = "assistant-resolved"
	FlagAssistantUnresolved  QualityFlag = "assistant-unresolved"
	FlagPropertyUnlinked     QualityFlag = "property-unlinked"
	FlagLeaseExpired         QualityFlag = "lease-expired"
	FlagExcessiveTerm        QualityFlag = "excessive-term"
	FlagFutureStartDate      QualityFlag = "future-start-date"
)

// FlagSet is the set of quality flags on a record. The zero value is usable.
type FlagSet map[QualityFlag]struct{}

// Add marks a flag. Adding an already-present flag is a no-op.
func (s *FlagSet) Add(f QualityFlag) {
	if *s == nil {
		*s = make(FlagSet)
	}
	(*s)[f] = struct{}{}
}

// Has reports whether the flag is set.
func (s FlagSet) Has(f QualityFlag) bool {
	_, ok := s[f]
	return ok
}

// Clear removes a flag after an explicit successful re-resolution. This is
// the only sanctioned way a flag disappears.
func (s FlagSet) Clear(f QualityFlag) {
	delete(s, f)
}

// Sorted returns the flags in stable order for persistence and comparison.
func (s FlagSet) Sorted() []QualityFlag {
	out := make([]QualityFlag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array so persisted records are
// byte-stable across runs.
func (s FlagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts the array form produced by MarshalJSON.
func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var flags []QualityFlag
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	*s = nil
	for _, f := range flags {
		s.Add(f)
	}
	return nil
}

// Equal reports whether two flag sets contain the same flags.
func (s FlagSet) Equal(other FlagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for f := range s {
		if !other.Has(f) {
			return false
		}
	}
	return true
}
