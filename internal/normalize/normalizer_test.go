package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasedata/goldenrec/internal/model"
)

func TestNormalizeCleanRecord(t *testing.T) {
	n := New(date(2024, time.June, 1))
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100001",
		PropertyID:  "prop-1",
		Term:        "99 years from 1 January 1990",
		BatchID:     "b1",
	})

	require.NotNil(t, rec.StartDate)
	assert.Equal(t, date(1990, time.January, 1), *rec.StartDate)
	require.NotNil(t, rec.Term)
	assert.Equal(t, 99.0, rec.Term.Years)
	require.NotNil(t, rec.ExpiryDate)
	assert.Equal(t, date(2089, time.January, 1), *rec.ExpiryDate)
	require.NotNil(t, rec.RemainingYears)
	assert.Equal(t, 65.0, *rec.RemainingYears)

	assert.Empty(t, rec.Flags)
	for _, f := range model.MandatoryFields {
		assert.Equal(t, model.ParseFull, rec.Status(f))
	}
}

func TestNormalizeAmbiguousDate(t *testing.T) {
	n := New(date(2024, time.June, 1))
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100002",
		Term:        "125 years from 05/06/2000",
	})

	assert.Nil(t, rec.StartDate)
	assert.True(t, rec.Flags.Has(model.FlagAmbiguousDate))
	assert.True(t, rec.Flags.Has(model.FlagRemainingUnavailable))
	assert.Equal(t, model.ParsePartial, rec.Status(model.FieldStartDate))
	assert.Equal(t, model.ParseFull, rec.Status(model.FieldTermYears))
	assert.Equal(t, model.ParseFailed, rec.Status(model.FieldRemainingYears))
}

func TestNormalizeParseFailure(t *testing.T) {
	n := New(date(2024, time.June, 1))
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100003",
		Term:        "see conveyance",
	})

	assert.True(t, rec.Flags.Has(model.FlagParseFailed))
	assert.True(t, rec.Flags.Has(model.FlagRemainingUnavailable))
	assert.Equal(t, model.ParseFailed, rec.Status(model.FieldStartDate))
	assert.Equal(t, model.ParseFailed, rec.Status(model.FieldTermYears))
	assert.Equal(t, "see conveyance", rec.RawTerm)
}

func TestNormalizeExpiredLease(t *testing.T) {
	n := New(date(2024, time.June, 1))
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100004",
		Term:        "21 years from 25 March 1970",
	})

	require.NotNil(t, rec.RemainingYears)
	assert.Equal(t, 0.0, *rec.RemainingYears)
	assert.True(t, rec.Flags.Has(model.FlagLeaseExpired))
}

func TestNormalizeLeaseDateFallback(t *testing.T) {
	n := New(date(2024, time.June, 1))
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100005",
		Term:        "term as per deed",
		DateOfLease: "1995-06-24",
	})

	require.NotNil(t, rec.StartDate)
	assert.Equal(t, date(1995, time.June, 24), *rec.StartDate)
	assert.Equal(t, model.ParseFull, rec.Status(model.FieldStartDate))
	// No duration, so remaining years is still unavailable.
	assert.Nil(t, rec.RemainingYears)
	assert.True(t, rec.Flags.Has(model.FlagRemainingUnavailable))
}

func TestNormalizeLeaseDateFallbackAmbiguity(t *testing.T) {
	n := New(date(2024, time.June, 1))

	// Both readings of 05/06/2000 are valid and disagree; the fallback
	// must flag it like the term path does, never pick one.
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100008",
		Term:        "term as per deed",
		DateOfLease: "05/06/2000",
	})
	assert.Nil(t, rec.StartDate)
	assert.True(t, rec.Flags.Has(model.FlagAmbiguousDate))
	assert.Equal(t, model.ParsePartial, rec.Status(model.FieldStartDate))

	// Day beyond twelve forces the day-first reading.
	rec = n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100009",
		Term:        "term as per deed",
		DateOfLease: "25/06/2000",
	})
	require.NotNil(t, rec.StartDate)
	assert.Equal(t, date(2000, time.June, 25), *rec.StartDate)
	assert.False(t, rec.Flags.Has(model.FlagAmbiguousDate))

	// Agreeing readings are clean.
	rec = n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100010",
		Term:        "term as per deed",
		DateOfLease: "01/01/1990",
	})
	require.NotNil(t, rec.StartDate)
	assert.Equal(t, date(1990, time.January, 1), *rec.StartDate)
	assert.False(t, rec.Flags.Has(model.FlagAmbiguousDate))
}

func TestNormalizeTombstone(t *testing.T) {
	n := New(date(2024, time.June, 1))
	rec := n.Normalize(model.RawLeaseRecord{
		TitleNumber: "TGL100006",
		BatchID:     "b2",
		Deleted:     true,
	})

	assert.True(t, rec.Deleted)
	assert.Nil(t, rec.StartDate)
	assert.Empty(t, rec.Flags)
	assert.Empty(t, rec.ParseStatus)
}

func TestNormalizeDeterministic(t *testing.T) {
	n := New(date(2024, time.June, 1))
	raw := model.RawLeaseRecord{TitleNumber: "TGL100007", Term: "97 3/4 years from 25 December 1950"}

	a := n.Normalize(raw)
	b := n.Normalize(raw)
	assert.Equal(t, a, b)
}
