package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/normalize"
)

var ref = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

func normalized(t *testing.T, term string) model.NormalizedLeaseRecord {
	t.Helper()
	return normalize.New(ref).Normalize(model.RawLeaseRecord{TitleNumber: "TGL1", Term: term})
}

func TestOCRSubstitutionRepairsTerm(t *testing.T) {
	rec := normalized(t, "l25 years from 1 January 2OOO")
	require.True(t, rec.Flags.Has(model.FlagParseFailed))

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	require.NotNil(t, ev.Record.Term)
	assert.Equal(t, 125.0, ev.Record.Term.Years)
	require.NotNil(t, ev.Record.StartDate)
	assert.Equal(t, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), *ev.Record.StartDate)
	require.NotNil(t, ev.Record.RemainingYears)
	assert.Equal(t, 101.0, *ev.Record.RemainingYears)

	assert.True(t, ev.Record.Flags.Has(model.FlagRuleCorrected))
	assert.False(t, ev.Record.Flags.Has(model.FlagParseFailed))
	assert.Equal(t, "ocr-digit-substitution", ev.Fields[model.FieldTermYears].CorrectedBy)
	assert.Empty(t, ev.Unresolved())
}

func TestOCRSubstitutionLeavesGarbageUnresolved(t *testing.T) {
	rec := normalized(t, "see conveyance")

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	assert.True(t, ev.Record.Flags.Has(model.FlagParseFailed))
	assert.Nil(t, ev.Record.Term)
}

func TestTermBounds(t *testing.T) {
	rec := normalized(t, "99 years from 1 January 1990")
	rec.Term.Years = 1500

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	assert.True(t, ev.Record.Flags.Has(model.FlagExcessiveTerm))
	assert.Contains(t, ev.Unresolved(), model.FieldTermYears)
}

func TestStartNotFuture(t *testing.T) {
	rec := normalized(t, "99 years from 1 January 2030")

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	assert.True(t, ev.Record.Flags.Has(model.FlagFutureStartDate))
	assert.Contains(t, ev.Unresolved(), model.FieldStartDate)
}

func TestStartNotBeforeEra(t *testing.T) {
	rec := normalized(t, "999 years from 25 March 1750")

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	assert.True(t, ev.Record.Flags.Has(model.FlagDateOutOfRange))
	assert.Contains(t, ev.Unresolved(), model.FieldStartDate)
}

func TestRemainingWithinTermCorrects(t *testing.T) {
	rec := normalized(t, "99 years from 1 January 1990")
	bogus := 150.0
	rec.RemainingYears = &bogus

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	require.NotNil(t, ev.Record.RemainingYears)
	assert.Equal(t, 65.0, *ev.Record.RemainingYears)
	assert.True(t, ev.Record.Flags.Has(model.FlagRuleCorrected))
	assert.Equal(t, "remaining-within-term", ev.Fields[model.FieldRemainingYears].CorrectedBy)
}

func TestRemainingWithinTermFutureStartClamps(t *testing.T) {
	rec := normalized(t, "99 years from 1 January 2030")
	require.NotNil(t, rec.RemainingYears)
	require.Greater(t, *rec.RemainingYears, 99.0)

	ev := NewEngine(DefaultConfig()).Evaluate(rec, ref)

	// Negative elapsed time must not inflate the corrected value past the
	// term itself.
	require.NotNil(t, ev.Record.RemainingYears)
	assert.Equal(t, 99.0, *ev.Record.RemainingYears)
	assert.LessOrEqual(t, *ev.Record.RemainingYears, ev.Record.Term.TotalYears())
	assert.Equal(t, "remaining-within-term", ev.Fields[model.FieldRemainingYears].CorrectedBy)
	assert.True(t, ev.Record.Flags.Has(model.FlagFutureStartDate))
	assert.Contains(t, ev.Unresolved(), model.FieldStartDate)
}

func TestExpiryConsistency(t *testing.T) {
	cfg := DefaultConfig()

	rec := normalized(t, "99 years from 1 January 1990")
	within := time.Date(2089, time.January, 5, 0, 0, 0, 0, time.UTC)
	rec.ExpiryDate = &within
	ev := NewEngine(cfg).Evaluate(rec, ref)
	assert.NotContains(t, ev.Unresolved(), model.FieldExpiryDate)

	far := time.Date(2090, time.June, 1, 0, 0, 0, 0, time.UTC)
	rec.ExpiryDate = &far
	ev = NewEngine(cfg).Evaluate(rec, ref)
	assert.Contains(t, ev.Unresolved(), model.FieldExpiryDate)
}

// fixedCorrection is a test rule that always proposes the same remaining
// years value.
type fixedCorrection struct {
	name  string
	value float64
}

func (r *fixedCorrection) Name() string { return r.name }

func (r *fixedCorrection) Evaluate(_ *model.NormalizedLeaseRecord, _ time.Time) []Finding {
	v := r.value
	return []Finding{{
		Field:    model.FieldRemainingYears,
		Kind:     Correct,
		Proposal: r.name + "-proposal",
		Apply:    func(rec *model.NormalizedLeaseRecord) { rec.RemainingYears = &v },
	}}
}

func TestConflictingCorrectionsLeaveFieldUnresolved(t *testing.T) {
	rec := normalized(t, "99 years from 1 January 1990")
	original := *rec.RemainingYears

	engine := NewEngineWith(
		&fixedCorrection{name: "rule-a", value: 10},
		&fixedCorrection{name: "rule-b", value: 20},
	)
	ev := engine.Evaluate(rec, ref)

	assert.True(t, ev.Record.Flags.Has(model.FlagRuleConflict))
	assert.Contains(t, ev.Unresolved(), model.FieldRemainingYears)
	require.NotNil(t, ev.Record.RemainingYears)
	assert.Equal(t, original, *ev.Record.RemainingYears, "conflicted field reverts to its pre-engine value")
	assert.Empty(t, ev.Fields[model.FieldRemainingYears].CorrectedBy)
}

func TestAgreeingCorrectionsAreNotAConflict(t *testing.T) {
	rec := normalized(t, "99 years from 1 January 1990")

	a := &fixedCorrection{name: "rule-a", value: 10}
	b := &fixedCorrection{name: "rule-a", value: 10}
	ev := NewEngineWith(a, b).Evaluate(rec, ref)

	assert.False(t, ev.Record.Flags.Has(model.FlagRuleConflict))
	assert.Equal(t, "rule-a", ev.Fields[model.FieldRemainingYears].CorrectedBy)
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = []string{"term-bounds"}

	rec := normalized(t, "99 years from 1 January 1990")
	rec.Term.Years = 1500

	ev := NewEngine(cfg).Evaluate(rec, ref)

	assert.False(t, ev.Record.Flags.Has(model.FlagExcessiveTerm))
	assert.Empty(t, ev.Unresolved())
}
