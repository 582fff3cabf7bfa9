package model

import "time"

// GoldenRecord is the persisted, versioned, authoritative record for one
// title. Mutated only by the merge engine; version increments on every
// applied change; deletions are tombstones, never physical removals.
type GoldenRecord struct {
	TitleNumber string `json:"title_number"`
	PropertyID  string `json:"property_id"`

	StartDate      *time.Time    `json:"start_date,omitempty"`
	ExpiryDate     *time.Time    `json:"expiry_date,omitempty"`
	Term           *TermDuration `json:"term,omitempty"`
	RemainingYears *float64      `json:"remaining_years,omitempty"`
	RawTerm        string        `json:"raw_term"`
	Address        *AddressLink  `json:"address,omitempty"`

	Fields     map[FieldKind]FieldConfidence     `json:"fields"`
	Aggregate  float64                           `json:"aggregate"`
	Flags      FlagSet                           `json:"flags"`
	Provenance map[FieldKind]AssistantProvenance `json:"provenance,omitempty"`

	Version     int64     `json:"version"`
	LastBatchID string    `json:"last_batch_id"`
	Deleted     bool      `json:"deleted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FromScored builds the golden-record content for a scored record. Version,
// batch id, and timestamps are assigned by the merge engine.
func FromScored(sr *ScoredRecord) *GoldenRecord {
	return &GoldenRecord{
		TitleNumber:    sr.TitleNumber,
		PropertyID:     sr.PropertyID,
		StartDate:      sr.StartDate,
		ExpiryDate:     sr.ExpiryDate,
		Term:           sr.Term,
		RemainingYears: sr.RemainingYears,
		RawTerm:        sr.RawTerm,
		Address:        sr.Address,
		Fields:         sr.Fields,
		Aggregate:      sr.Aggregate,
		Flags:          sr.Flags,
		Provenance:     sr.Provenance,
	}
}

// ContentEqual reports whether two golden records carry the same normalized
// and scored content, ignoring version, batch, and timestamp bookkeeping.
// Field-for-field identity here is what makes a merge entry a no-op.
func (g *GoldenRecord) ContentEqual(other *GoldenRecord) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.TitleNumber != other.TitleNumber ||
		g.PropertyID != other.PropertyID ||
		g.RawTerm != other.RawTerm ||
		g.Aggregate != other.Aggregate ||
		g.Deleted != other.Deleted {
		return false
	}
	if !timePtrEqual(g.StartDate, other.StartDate) || !timePtrEqual(g.ExpiryDate, other.ExpiryDate) {
		return false
	}
	if !termEqual(g.Term, other.Term) || !floatPtrEqual(g.RemainingYears, other.RemainingYears) {
		return false
	}
	if !g.Flags.Equal(other.Flags) {
		return false
	}
	if len(g.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range g.Fields {
		if ov, ok := other.Fields[k]; !ok || ov != v {
			return false
		}
	}
	if !addressEqual(g.Address, other.Address) {
		return false
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func termEqual(a, b *TermDuration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func addressEqual(a, b *AddressLink) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UPRN == b.UPRN && a.Postcode == b.Postcode &&
		floatPtrEqual(a.Latitude, b.Latitude) && floatPtrEqual(a.Longitude, b.Longitude)
}
