// Package model holds the shared types that flow between pipeline stages:
// raw extract rows, normalized lease attributes, confidence scores, quality
// flags, golden records, and change sets.
package model

import (
	"encoding/json"
	"time"
)

// BatchType marks how a batch's universe of keys should be interpreted by
// the merge engine.
type BatchType string

const (
	// BatchFullRefresh carries the complete current dataset; keys absent
	// from it are deletions.
	BatchFullRefresh BatchType = "full-refresh"
	// BatchChangeOnly carries only rows changed since the last batch; keys
	// absent from it are left untouched.
	BatchChangeOnly BatchType = "change-only"
)

// FieldKind identifies a lease attribute within a record. Used for rule
// routing, assistant requests, and per-field confidence.
type FieldKind string

const (
	FieldStartDate      FieldKind = "start_date"
	FieldTermYears      FieldKind = "term_years"
	FieldRemainingYears FieldKind = "remaining_years"
	FieldExpiryDate     FieldKind = "expiry_date"
)

// MandatoryFields are the attributes whose confidence bounds the aggregate
// record confidence.
var MandatoryFields = []FieldKind{FieldStartDate, FieldTermYears, FieldRemainingYears}

// RawLeaseRecord is one row from a source extract, immutable once ingested.
// Identified by (TitleNumber, BatchID).
type RawLeaseRecord struct {
	TitleNumber string    `json:"title_number"`
	PropertyID  string    `json:"property_id"`
	Term        string    `json:"term"`
	DateOfLease string    `json:"date_of_lease,omitempty"`
	BatchID     string    `json:"batch_id"`
	ExtractedAt time.Time `json:"extracted_at"`

	// Deleted marks an explicit tombstone row in a change-only batch.
	Deleted bool `json:"deleted,omitempty"`
}

// ParseStatus records how completely a field parsed.
type ParseStatus string

const (
	ParseFull    ParseStatus = "full"
	ParsePartial ParseStatus = "partial"
	ParseFailed  ParseStatus = "failed"
)

// TermDuration is a typed lease term length with an explicit unit split.
// Years may be fractional ("97 3/4 years"); Months covers terms like
// "31 years and 6 months".
type TermDuration struct {
	Years  float64 `json:"years"`
	Months int     `json:"months,omitempty"`
}

// TotalYears returns the duration expressed in (possibly fractional) years.
func (d TermDuration) TotalYears() float64 {
	return d.Years + float64(d.Months)/12
}

// NormalizedLeaseRecord is the structured form of a RawLeaseRecord. It is
// owned by the pipeline run that produced it and is not persisted on its
// own; the merge engine folds it into the golden record.
type NormalizedLeaseRecord struct {
	TitleNumber string `json:"title_number"`
	PropertyID  string `json:"property_id"`
	BatchID     string `json:"batch_id"`

	StartDate      *time.Time    `json:"start_date,omitempty"`
	ExpiryDate     *time.Time    `json:"expiry_date,omitempty"`
	Term           *TermDuration `json:"term,omitempty"`
	RemainingYears *float64      `json:"remaining_years,omitempty"`

	// RawTerm preserves the source text for audit and for assistant context.
	RawTerm string `json:"raw_term"`

	ParseStatus map[FieldKind]ParseStatus `json:"parse_status"`
	Flags       FlagSet                   `json:"flags"`

	// Address enrichment, populated when the property identifier resolves.
	Address *AddressLink `json:"address,omitempty"`

	// Deleted carries an explicit tombstone marker through from the raw row.
	Deleted bool `json:"deleted,omitempty"`
}

// AddressLink is the location linkage resolved from the external address
// reference dataset.
type AddressLink struct {
	UPRN      string   `json:"uprn,omitempty"`
	Postcode  string   `json:"postcode,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	// Location is a GeoJSON Point built from the coordinates. Kept as raw
	// JSON so it embeds directly into the persisted record.
	Location json.RawMessage `json:"location,omitempty"`
}

// Status returns the parse status for a field, defaulting to failed when the
// field was never visited.
func (r *NormalizedLeaseRecord) Status(f FieldKind) ParseStatus {
	if r.ParseStatus == nil {
		return ParseFailed
	}
	if s, ok := r.ParseStatus[f]; ok {
		return s
	}
	return ParseFailed
}

// SetStatus records the parse status for a field.
func (r *NormalizedLeaseRecord) SetStatus(f FieldKind, s ParseStatus) {
	if r.ParseStatus == nil {
		r.ParseStatus = make(map[FieldKind]ParseStatus)
	}
	r.ParseStatus[f] = s
}

// Clone returns a deep copy so a pipeline stage can mutate its own view
// without aliasing the caller's maps and pointers.
func (r NormalizedLeaseRecord) Clone() NormalizedLeaseRecord {
	out := r
	if r.ParseStatus != nil {
		out.ParseStatus = make(map[FieldKind]ParseStatus, len(r.ParseStatus))
		for k, v := range r.ParseStatus {
			out.ParseStatus[k] = v
		}
	}
	if r.Flags != nil {
		out.Flags = make(FlagSet, len(r.Flags))
		for f := range r.Flags {
			out.Flags[f] = struct{}{}
		}
	}
	if r.StartDate != nil {
		v := *r.StartDate
		out.StartDate = &v
	}
	if r.ExpiryDate != nil {
		v := *r.ExpiryDate
		out.ExpiryDate = &v
	}
	if r.Term != nil {
		v := *r.Term
		out.Term = &v
	}
	if r.RemainingYears != nil {
		v := *r.RemainingYears
		out.RemainingYears = &v
	}
	if r.Address != nil {
		v := *r.Address
		if r.Address.Latitude != nil {
			lat := *r.Address.Latitude
			v.Latitude = &lat
		}
		if r.Address.Longitude != nil {
			lon := *r.Address.Longitude
			v.Longitude = &lon
		}
		if r.Address.Location != nil {
			v.Location = append([]byte(nil), r.Address.Location...)
		}
		out.Address = &v
	}
	return out
}
