// Package normalize turns free-text lease term strings into typed lease
// attributes: start date, term duration, expiry date, and remaining years.
package normalize

import (
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/model"
)

// Normalizer converts raw extract rows into normalized lease records. The
// reference date anchors remaining-years calculations so a batch replayed
// later produces identical output.
type Normalizer struct {
	Reference time.Time
}

func New(reference time.Time) *Normalizer {
	return &Normalizer{Reference: reference}
}

// Normalize parses one raw row. It never returns an error: rows that cannot
// be parsed come back with failed parse statuses and quality flags so the
// rest of the pipeline can route them to the rule engine and assistant.
func (n *Normalizer) Normalize(raw model.RawLeaseRecord) model.NormalizedLeaseRecord {
	rec := model.NormalizedLeaseRecord{
		TitleNumber: raw.TitleNumber,
		PropertyID:  raw.PropertyID,
		BatchID:     raw.BatchID,
		RawTerm:     raw.Term,
		Deleted:     raw.Deleted,
	}
	if raw.Deleted {
		return rec
	}

	parsed, matched := ParseTerm(raw.Term)
	if !matched {
		// The lease date column sometimes carries the start date when the
		// term string is duration-only garbage or empty.
		parsed = n.fallbackFromLeaseDate(raw)
	}

	n.applyStart(&rec, parsed)
	n.applyTerm(&rec, parsed)
	n.applyExpiry(&rec, parsed)
	n.applyRemaining(&rec)

	if rec.Status(model.FieldStartDate) == model.ParseFailed &&
		rec.Status(model.FieldTermYears) == model.ParseFailed {
		rec.Flags.Add(model.FlagParseFailed)
		zap.L().Debug("term parse failed",
			zap.String("title_number", raw.TitleNumber),
			zap.String("term", raw.Term))
	}
	return rec
}

// fallbackFromLeaseDate salvages a start date from the separate lease date
// column when the term string itself yields nothing.
// numericLeaseDate matches day/month/year fragments whose reading must go
// through the same ambiguity check as dates inside term strings.
var numericLeaseDate = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4})$`)

func (n *Normalizer) fallbackFromLeaseDate(raw model.RawLeaseRecord) Parsed {
	var p Parsed
	s := strings.TrimSpace(raw.DateOfLease)
	if s == "" {
		return p
	}
	if m := numericLeaseDate.FindStringSubmatch(s); m != nil {
		p.setStart(parseDayMonthYear(m[1], m[2], m[3]))
		return p
	}
	// Fixed-field-order layouts carry no day/month ambiguity.
	for _, layout := range []string{"2006-01-02", "2 January 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			p.Start = &t
			break
		}
	}
	return p
}

func (n *Normalizer) applyStart(rec *model.NormalizedLeaseRecord, p Parsed) {
	switch {
	case p.Start != nil:
		rec.StartDate = p.Start
		rec.SetStatus(model.FieldStartDate, model.ParseFull)
	case p.StartAmbiguous:
		rec.Flags.Add(model.FlagAmbiguousDate)
		rec.SetStatus(model.FieldStartDate, model.ParsePartial)
	default:
		rec.SetStatus(model.FieldStartDate, model.ParseFailed)
	}
}

func (n *Normalizer) applyTerm(rec *model.NormalizedLeaseRecord, p Parsed) {
	if !p.HasDuration {
		rec.SetStatus(model.FieldTermYears, model.ParseFailed)
		return
	}
	rec.Term = &model.TermDuration{Years: p.Years, Months: p.Months}
	rec.SetStatus(model.FieldTermYears, model.ParseFull)
}

func (n *Normalizer) applyExpiry(rec *model.NormalizedLeaseRecord, p Parsed) {
	switch {
	case p.Expiry != nil:
		rec.ExpiryDate = p.Expiry
		rec.SetStatus(model.FieldExpiryDate, model.ParseFull)
	case p.ExpiryAmbiguous:
		rec.Flags.Add(model.FlagAmbiguousDate)
		rec.SetStatus(model.FieldExpiryDate, model.ParsePartial)
	default:
		rec.SetStatus(model.FieldExpiryDate, model.ParseFailed)
	}
}

// applyRemaining derives remaining whole years at the reference date. It
// needs both a start date and a term duration; anything less is flagged so
// the record surfaces in quality reporting.
func (n *Normalizer) applyRemaining(rec *model.NormalizedLeaseRecord) {
	if rec.StartDate == nil || rec.Term == nil {
		rec.Flags.Add(model.FlagRemainingUnavailable)
		rec.SetStatus(model.FieldRemainingYears, model.ParseFailed)
		return
	}
	elapsed := wholeYearsBetween(*rec.StartDate, n.Reference)
	remaining := math.Floor(rec.Term.TotalYears()) - float64(elapsed)
	if remaining < 0 {
		remaining = 0
		rec.Flags.Add(model.FlagLeaseExpired)
	}
	rec.RemainingYears = &remaining
	rec.SetStatus(model.FieldRemainingYears, model.ParseFull)
}
