package assist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasedata/goldenrec/internal/cache"
	"github.com/leasedata/goldenrec/internal/model"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(req FieldRequest) (Proposal, error)
}

func (f *fakeProvider) Propose(_ context.Context, req FieldRequest) (Proposal, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testOptions() Options {
	return Options{
		MaxInvocations:  100,
		AcceptThreshold: 0.5,
		Timeout:         time.Second,
		RatePerSec:      1000,
	}
}

func unresolvedTerm(term string) model.NormalizedLeaseRecord {
	rec := model.NormalizedLeaseRecord{TitleNumber: "TGL1", RawTerm: term}
	rec.SetStatus(model.FieldTermYears, model.ParseFailed)
	return rec
}

func TestResolveAcceptsConfidentProposal(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "99", Confidence: 0.9, Model: "claude-haiku-4-5-20251001"}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), testOptions())

	res := r.Resolve(context.Background(), unresolvedTerm("ninety nine years from a smudged date"), []model.FieldKind{model.FieldTermYears})

	require.NotNil(t, res.Record.Term)
	assert.Equal(t, 99.0, res.Record.Term.Years)
	assert.True(t, res.Record.Flags.Has(model.FlagAssistantResolved))
	assert.Empty(t, res.Unresolved)

	prov, ok := res.Resolved[model.FieldTermYears]
	require.True(t, ok)
	assert.Equal(t, "claude-haiku-4-5-20251001", prov.Model)
	assert.Equal(t, 0.9, prov.Confidence)
	assert.NotEmpty(t, prov.Fingerprint)
}

func TestResolveRejectsLowConfidence(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "99", Confidence: 0.3}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), testOptions())

	res := r.Resolve(context.Background(), unresolvedTerm("illegible"), []model.FieldKind{model.FieldTermYears})

	assert.Nil(t, res.Record.Term)
	assert.True(t, res.Record.Flags.Has(model.FlagAssistantUnresolved))
	assert.Equal(t, []model.FieldKind{model.FieldTermYears}, res.Unresolved)
}

func TestResolveIdenticalTextInvokesProviderOnce(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "125", Confidence: 0.8}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), testOptions())
	ctx := context.Background()

	first := unresolvedTerm("one hundred and twenty five years, smudged")
	second := unresolvedTerm("one hundred and twenty five years, smudged")
	second.TitleNumber = "TGL2"

	a := r.Resolve(ctx, first, []model.FieldKind{model.FieldTermYears})
	b := r.Resolve(ctx, second, []model.FieldKind{model.FieldTermYears})

	assert.Equal(t, 1, provider.callCount(), "identical text must be served from cache")
	assert.Equal(t, 1, r.CacheHits())
	require.NotNil(t, a.Record.Term)
	require.NotNil(t, b.Record.Term)
	assert.Equal(t, a.Record.Term.Years, b.Record.Term.Years)
	assert.Equal(t, a.Resolved[model.FieldTermYears].Fingerprint, b.Resolved[model.FieldTermYears].Fingerprint)
}

func TestResolveCacheSurvivesAcrossBatches(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "99", Confidence: 0.8}, nil
	}}
	shared := cache.NewMemory()
	ctx := context.Background()

	rec := unresolvedTerm("ninety nine yrs frm unk")
	first := NewResolver(provider, shared, testOptions())
	_ = first.Resolve(ctx, rec, []model.FieldKind{model.FieldTermYears})
	require.Equal(t, 1, provider.callCount())

	// A later batch gets a fresh resolver but the same cache.
	second := NewResolver(provider, shared, testOptions())
	res := second.Resolve(ctx, rec, []model.FieldKind{model.FieldTermYears})

	assert.Equal(t, 1, provider.callCount(), "replayed batch must not re-invoke the provider")
	assert.Zero(t, second.Invocations())
	assert.Equal(t, 1, second.CacheHits())
	require.NotNil(t, res.Record.Term)
	assert.Equal(t, 99.0, res.Record.Term.Years)
}

func TestResolveZeroOptionsDefaultCeiling(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "99", Confidence: 0.9}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), Options{})

	res := r.Resolve(context.Background(), unresolvedTerm("smudged but recoverable"), []model.FieldKind{model.FieldTermYears})

	// An unset ceiling must not mean a ceiling of zero.
	assert.Equal(t, 1, provider.callCount())
	assert.False(t, r.BoundHit())
	require.NotNil(t, res.Record.Term)
	assert.Equal(t, 99.0, res.Record.Term.Years)
}

func TestResolveNegativeCaching(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "", Confidence: 0.9}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), testOptions())
	ctx := context.Background()

	_ = r.Resolve(ctx, unresolvedTerm("genuinely undecidable"), []model.FieldKind{model.FieldTermYears})
	res := r.Resolve(ctx, unresolvedTerm("genuinely undecidable"), []model.FieldKind{model.FieldTermYears})

	assert.Equal(t, 1, provider.callCount(), "undecidable answers are cached too")
	assert.Equal(t, []model.FieldKind{model.FieldTermYears}, res.Unresolved)
}

func TestResolveInvocationCeiling(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "99", Confidence: 0.9}, nil
	}}
	opts := testOptions()
	opts.MaxInvocations = 1
	r := NewResolver(provider, cache.NewMemory(), opts)
	ctx := context.Background()

	first := r.Resolve(ctx, unresolvedTerm("first distinct text"), []model.FieldKind{model.FieldTermYears})
	second := r.Resolve(ctx, unresolvedTerm("second distinct text"), []model.FieldKind{model.FieldTermYears})

	assert.Empty(t, first.Unresolved)
	assert.Equal(t, []model.FieldKind{model.FieldTermYears}, second.Unresolved)
	assert.True(t, r.BoundHit())
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, 1, r.Invocations())
}

func TestResolveProviderErrorIsNotCached(t *testing.T) {
	fail := true
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		if fail {
			return Proposal{}, ErrAssistantUnavailable
		}
		return Proposal{Value: "99", Confidence: 0.9}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), testOptions())
	ctx := context.Background()

	res := r.Resolve(ctx, unresolvedTerm("flaky"), []model.FieldKind{model.FieldTermYears})
	assert.Equal(t, []model.FieldKind{model.FieldTermYears}, res.Unresolved)

	fail = false
	res = r.Resolve(ctx, unresolvedTerm("flaky"), []model.FieldKind{model.FieldTermYears})
	assert.Empty(t, res.Unresolved, "a transport failure must not poison the cache")
	assert.Equal(t, 2, provider.callCount())
}

func TestResolveMalformedValueRejected(t *testing.T) {
	provider := &fakeProvider{respond: func(req FieldRequest) (Proposal, error) {
		return Proposal{Value: "not-a-number", Confidence: 0.9}, nil
	}}
	r := NewResolver(provider, cache.NewMemory(), testOptions())

	res := r.Resolve(context.Background(), unresolvedTerm("odd"), []model.FieldKind{model.FieldTermYears})

	assert.Nil(t, res.Record.Term)
	assert.Equal(t, []model.FieldKind{model.FieldTermYears}, res.Unresolved)
}

func TestParseProposal(t *testing.T) {
	p, err := parseProposal(`{"value": "1990-01-01", "confidence": 0.85}`)
	require.NoError(t, err)
	assert.Equal(t, "1990-01-01", p.Value)
	assert.Equal(t, 0.85, p.Confidence)

	p, err = parseProposal("```json\n{\"value\": null, \"confidence\": 0.2}\n```")
	require.NoError(t, err)
	assert.Empty(t, p.Value)

	_, err = parseProposal("sorry, I cannot help with that")
	assert.Error(t, err)
}

func TestFingerprintIgnoresCosmeticDifferences(t *testing.T) {
	a := Fingerprint(model.FieldTermYears, "99  years from 1 January 1990")
	b := Fingerprint(model.FieldTermYears, "99 years from 1 January 1990")
	assert.Equal(t, a, b)

	c := Fingerprint(model.FieldStartDate, "99 years from 1 January 1990")
	assert.NotEqual(t, a, c, "field kind is part of the fingerprint")
}
