package rules

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/normalize"
)

// digitRun matches word tokens that contain at least one digit mixed with
// the usual OCR confusion characters. Substitution stays inside these runs
// so ordinary words are never touched.
var digitRun = regexp.MustCompile(`\b[0-9OolISsB]*[0-9][0-9OolISsB]*\b`)

// ocrSubstitution repairs OCR digit confusions (O→0, l/I→1, S→5, B→8) in the
// raw term string and re-parses. It only runs when the term failed to parse
// and only proposes values for fields the re-parse recovered.
type ocrSubstitution struct {
	cfg Config
}

func (r *ocrSubstitution) Name() string { return "ocr-digit-substitution" }

func (r *ocrSubstitution) Evaluate(rec *model.NormalizedLeaseRecord, ref time.Time) []Finding {
	if rec.Deleted || rec.RawTerm == "" {
		return nil
	}
	termFailed := rec.Status(model.FieldTermYears) == model.ParseFailed
	startFailed := rec.Status(model.FieldStartDate) == model.ParseFailed
	if !termFailed && !startFailed {
		return nil
	}

	substituted := digitRun.ReplaceAllStringFunc(rec.RawTerm, func(run string) string {
		var b strings.Builder
		for _, c := range run {
			if d, ok := r.cfg.Substitutions[string(c)]; ok {
				b.WriteString(d)
			} else {
				b.WriteRune(c)
			}
		}
		return b.String()
	})
	if substituted == rec.RawTerm {
		return nil
	}

	repaired := normalize.New(ref).Normalize(model.RawLeaseRecord{Term: substituted})

	var findings []Finding
	if startFailed && repaired.StartDate != nil {
		start := *repaired.StartDate
		findings = append(findings, Finding{
			Field:    model.FieldStartDate,
			Kind:     Correct,
			Proposal: start.Format("2006-01-02"),
			Apply: func(rec *model.NormalizedLeaseRecord) {
				rec.StartDate = &start
				rec.SetStatus(model.FieldStartDate, model.ParseFull)
			},
		})
	}
	if termFailed && repaired.Term != nil {
		term := *repaired.Term
		findings = append(findings, Finding{
			Field:    model.FieldTermYears,
			Kind:     Correct,
			Proposal: fmt.Sprintf("%gy%dm", term.Years, term.Months),
			Apply: func(rec *model.NormalizedLeaseRecord) {
				rec.Term = &term
				rec.SetStatus(model.FieldTermYears, model.ParseFull)
				rec.Flags.Clear(model.FlagParseFailed)
			},
		})
	}
	if repaired.ExpiryDate != nil && rec.ExpiryDate == nil {
		expiry := *repaired.ExpiryDate
		findings = append(findings, Finding{
			Field:    model.FieldExpiryDate,
			Kind:     Correct,
			Proposal: expiry.Format("2006-01-02"),
			Apply: func(rec *model.NormalizedLeaseRecord) {
				rec.ExpiryDate = &expiry
				rec.SetStatus(model.FieldExpiryDate, model.ParseFull)
			},
		})
	}
	if repaired.RemainingYears != nil && rec.RemainingYears == nil {
		remaining := *repaired.RemainingYears
		findings = append(findings, Finding{
			Field:    model.FieldRemainingYears,
			Kind:     Correct,
			Proposal: fmt.Sprintf("%g", remaining),
			Apply: func(rec *model.NormalizedLeaseRecord) {
				rec.RemainingYears = &remaining
				rec.SetStatus(model.FieldRemainingYears, model.ParseFull)
				rec.Flags.Clear(model.FlagRemainingUnavailable)
			},
		})
	}
	return findings
}

// termBounds fails terms outside (0, MaxTermYears]. 999-year terms are the
// conventional registry maximum; anything longer is an extraction error.
type termBounds struct {
	cfg Config
}

func (r *termBounds) Name() string { return "term-bounds" }

func (r *termBounds) Evaluate(rec *model.NormalizedLeaseRecord, _ time.Time) []Finding {
	if rec.Term == nil {
		return nil
	}
	total := rec.Term.TotalYears()
	switch {
	case total <= 0:
		return []Finding{{Field: model.FieldTermYears, Kind: Fail}}
	case total > r.cfg.MaxTermYears:
		return []Finding{{Field: model.FieldTermYears, Kind: Fail, Flag: model.FlagExcessiveTerm}}
	}
	return nil
}

// startNotFuture fails start dates after the reference date.
type startNotFuture struct{}

func (r *startNotFuture) Name() string { return "start-not-future" }

func (r *startNotFuture) Evaluate(rec *model.NormalizedLeaseRecord, ref time.Time) []Finding {
	if rec.StartDate == nil || !rec.StartDate.After(ref) {
		return nil
	}
	return []Finding{{Field: model.FieldStartDate, Kind: Fail, Flag: model.FlagFutureStartDate}}
}

// startNotBefore fails start dates before the configured registry era.
type startNotBefore struct {
	cfg Config
}

func (r *startNotBefore) Name() string { return "start-not-before-1800" }

func (r *startNotBefore) Evaluate(rec *model.NormalizedLeaseRecord, _ time.Time) []Finding {
	if rec.StartDate == nil || rec.StartDate.Year() >= r.cfg.MinStartYear {
		return nil
	}
	return []Finding{{Field: model.FieldStartDate, Kind: Fail, Flag: model.FlagDateOutOfRange}}
}

// remainingWithinTerm corrects remaining years that exceed the term itself
// by recomputing from the start date, or clamping to the term length when
// the start is unknown.
type remainingWithinTerm struct{}

func (r *remainingWithinTerm) Name() string { return "remaining-within-term" }

func (r *remainingWithinTerm) Evaluate(rec *model.NormalizedLeaseRecord, ref time.Time) []Finding {
	if rec.RemainingYears == nil || rec.Term == nil {
		return nil
	}
	total := rec.Term.TotalYears()
	if *rec.RemainingYears <= total {
		return nil
	}

	remaining := math.Floor(total)
	if rec.StartDate != nil {
		elapsed := ref.Year() - rec.StartDate.Year()
		if rec.StartDate.AddDate(elapsed, 0, 0).After(ref) {
			elapsed--
		}
		// A future start has no elapsed years; the start date fails its
		// own check separately.
		if elapsed < 0 {
			elapsed = 0
		}
		remaining = math.Floor(total) - float64(elapsed)
	}
	if remaining < 0 {
		remaining = 0
	}

	return []Finding{{
		Field:    model.FieldRemainingYears,
		Kind:     Correct,
		Proposal: fmt.Sprintf("%g", remaining),
		Apply: func(rec *model.NormalizedLeaseRecord) {
			rec.RemainingYears = &remaining
		},
	}}
}

// expiryConsistent fails expiry dates that disagree with start+term beyond
// the configured tolerance. Registered expiry dates legitimately drift a few
// days from the arithmetic one, so small gaps pass.
type expiryConsistent struct {
	cfg Config
}

func (r *expiryConsistent) Name() string { return "expiry-consistent" }

func (r *expiryConsistent) Evaluate(rec *model.NormalizedLeaseRecord, _ time.Time) []Finding {
	if rec.StartDate == nil || rec.Term == nil || rec.ExpiryDate == nil {
		return nil
	}
	fullYears := int(rec.Term.Years)
	fracMonths := int(math.Round((rec.Term.Years - float64(fullYears)) * 12))
	expected := rec.StartDate.AddDate(fullYears, fracMonths+rec.Term.Months, 0)

	drift := rec.ExpiryDate.Sub(expected)
	if drift < 0 {
		drift = -drift
	}
	if drift <= time.Duration(r.cfg.ExpiryToleranceDays)*24*time.Hour {
		return nil
	}
	return []Finding{{Field: model.FieldExpiryDate, Kind: Fail}}
}
