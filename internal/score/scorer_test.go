package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/normalize"
	"github.com/leasedata/goldenrec/internal/rules"
)

var ref = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

func cleanRecord(t *testing.T) model.NormalizedLeaseRecord {
	t.Helper()
	rec := normalize.New(ref).Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL1",
		Term:        "99 years from 1 January 1990",
	})
	require.Empty(t, rec.Flags)
	return rec
}

func TestScoreCleanRecordFullConfidence(t *testing.T) {
	sr := New(0.8).Score(cleanRecord(t), nil, nil)

	for _, f := range model.MandatoryFields {
		c := sr.FieldScore(f)
		assert.Equal(t, 1.0, c.Score, "field %s", f)
		assert.Equal(t, model.MethodRuleEngine, c.Method)
	}
	assert.Equal(t, 1.0, sr.Aggregate)
	assert.Empty(t, sr.Flags)
}

func TestScoreAssistantCappedByCeiling(t *testing.T) {
	rec := cleanRecord(t)
	resolved := map[model.FieldKind]model.AssistantProvenance{
		model.FieldTermYears: {Model: "claude-haiku-4-5-20251001", Fingerprint: "fp", Confidence: 0.9},
	}

	sr := New(0.8).Score(rec, nil, resolved)

	c := sr.FieldScore(model.FieldTermYears)
	assert.Equal(t, model.MethodAssistant, c.Method)
	assert.InDelta(t, 0.72, c.Score, 1e-9)
	assert.Equal(t, 0.72, sr.Aggregate, "aggregate is the minimum over mandatory fields")
}

func TestScoreUnresolvedFieldZerosAggregate(t *testing.T) {
	rec := cleanRecord(t)
	rec.RemainingYears = nil
	rec.SetStatus(model.FieldRemainingYears, model.ParseFailed)

	sr := New(0.8).Score(rec, nil, nil)

	c := sr.FieldScore(model.FieldRemainingYears)
	assert.Equal(t, model.MethodUnresolved, c.Method)
	assert.Equal(t, 0.0, c.Score)
	assert.Equal(t, 0.0, sr.Aggregate)
}

func TestScoreMethodsAreMutuallyExclusive(t *testing.T) {
	rec := cleanRecord(t)
	rec.Term = nil
	rec.SetStatus(model.FieldTermYears, model.ParseFailed)
	rec.RemainingYears = nil
	rec.SetStatus(model.FieldRemainingYears, model.ParseFailed)
	resolved := map[model.FieldKind]model.AssistantProvenance{
		model.FieldStartDate: {Confidence: 0.9},
	}

	sr := New(0.8).Score(rec, nil, resolved)

	methods := map[model.ConfidenceMethod]int{}
	for _, f := range []model.FieldKind{model.FieldStartDate, model.FieldTermYears, model.FieldRemainingYears, model.FieldExpiryDate} {
		methods[sr.FieldScore(f).Method]++
	}
	assert.Equal(t, 1, methods[model.MethodAssistant])
	assert.Equal(t, 2, methods[model.MethodUnresolved], "term failed; remaining depends on it")
	assert.Equal(t, 1, methods[model.MethodRuleEngine])
}

func TestScoreRuleConflictIsNotDeterministic(t *testing.T) {
	rec := cleanRecord(t)
	outcomes := map[model.FieldKind]rules.FieldOutcome{
		model.FieldRemainingYears: {Conflict: true, Failed: []string{"rule-a"}},
	}

	sr := New(0.8).Score(rec, outcomes, nil)

	c := sr.FieldScore(model.FieldRemainingYears)
	assert.Equal(t, model.MethodUnresolved, c.Method)
	assert.Equal(t, 0.0, sr.Aggregate)
}

func TestScoreUncorrectedFailureIsUnresolved(t *testing.T) {
	rec := cleanRecord(t)
	outcomes := map[model.FieldKind]rules.FieldOutcome{
		model.FieldTermYears: {Failed: []string{"term-bounds"}},
	}

	sr := New(0.8).Score(rec, outcomes, nil)

	assert.Equal(t, model.MethodUnresolved, sr.FieldScore(model.FieldTermYears).Method)
}

func TestScoreSurvivingCrossFieldConflictFlagged(t *testing.T) {
	rec := cleanRecord(t)
	bogus := 150.0
	rec.RemainingYears = &bogus

	sr := New(0.8).Score(rec, nil, nil)

	assert.True(t, sr.Flags.Has(model.FlagCrossSourceConflict))
}
