package assist

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leasedata/goldenrec/internal/cache"
	"github.com/leasedata/goldenrec/internal/model"
)

// Options bound the resolver for one batch run.
type Options struct {
	// MaxInvocations caps provider calls for the batch. Cache hits are free.
	MaxInvocations int
	// AcceptThreshold rejects proposals whose self-reported confidence is
	// lower; rejected fields stay unresolved.
	AcceptThreshold float64
	// Timeout bounds each provider call.
	Timeout time.Duration
	// RatePerSec throttles provider calls.
	RatePerSec float64
}

// Resolver drives the assistant over a batch: fingerprint, cache, ceiling,
// rate limit, provider call, acceptance. One Resolver per batch run; the
// invocation counter is batch-scoped.
type Resolver struct {
	provider Provider
	cache    cache.Cache
	limiter  *rate.Limiter
	opts     Options

	invocations atomic.Int64
	boundHit    atomic.Bool
	cacheHits   atomic.Int64
}

func NewResolver(provider Provider, c cache.Cache, opts Options) *Resolver {
	if opts.MaxInvocations <= 0 {
		opts.MaxInvocations = 100
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Resolver{
		provider: provider,
		cache:    c,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		opts:     opts,
	}
}

// Invocations returns how many provider calls the batch has made.
func (r *Resolver) Invocations() int { return int(r.invocations.Load()) }

// BoundHit reports whether the batch exhausted its invocation ceiling.
func (r *Resolver) BoundHit() bool { return r.boundHit.Load() }

// CacheHits returns how many fields were served from the fingerprint cache.
func (r *Resolver) CacheHits() int { return int(r.cacheHits.Load()) }

// Resolution is the outcome for one record.
type Resolution struct {
	Record     model.NormalizedLeaseRecord
	Resolved   map[model.FieldKind]model.AssistantProvenance
	Unresolved []model.FieldKind
}

// Resolve attempts the unresolved fields of one record. It mutates only its
// own copy; provider failures and the invocation ceiling degrade to
// unresolved fields, never errors.
func (r *Resolver) Resolve(ctx context.Context, rec model.NormalizedLeaseRecord, unresolved []model.FieldKind) Resolution {
	res := Resolution{
		Record:   rec.Clone(),
		Resolved: make(map[model.FieldKind]model.AssistantProvenance),
	}

	for _, field := range unresolved {
		prov, ok := r.resolveField(ctx, &res.Record, field)
		if ok {
			res.Resolved[field] = prov
			res.Record.Flags.Add(model.FlagAssistantResolved)
		} else {
			res.Unresolved = append(res.Unresolved, field)
			res.Record.Flags.Add(model.FlagAssistantUnresolved)
		}
	}
	return res
}

// cachedProposal is the cache wire format. Proposals with an empty value are
// cached too, so known-undecidable text is never re-sent.
type cachedProposal struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

func (r *Resolver) resolveField(ctx context.Context, rec *model.NormalizedLeaseRecord, field model.FieldKind) (model.AssistantProvenance, bool) {
	fp := Fingerprint(field, rec.RawTerm)

	if p, hit := r.lookup(ctx, fp); hit {
		r.cacheHits.Add(1)
		return r.accept(rec, field, fp, p)
	}

	if int(r.invocations.Add(1)) > r.opts.MaxInvocations {
		r.invocations.Add(-1)
		r.boundHit.Store(true)
		return model.AssistantProvenance{}, false
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return model.AssistantProvenance{}, false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	proposal, err := r.provider.Propose(callCtx, FieldRequest{Field: field, RawTerm: rec.RawTerm})
	cancel()
	if err != nil {
		// Transport or decode failure: leave unresolved and do not cache,
		// a retry on the next batch may succeed.
		zap.L().Warn("assistant unavailable",
			zap.String("field", string(field)),
			zap.Error(err))
		return model.AssistantProvenance{}, false
	}

	stored := cachedProposal{Value: proposal.Value, Confidence: proposal.Confidence, Model: proposal.Model}
	if winner, err := r.store(ctx, fp, stored); err == nil {
		stored = winner
	}
	return r.accept(rec, field, fp, stored)
}

// lookup reads the fingerprint cache, treating cache errors as misses.
func (r *Resolver) lookup(ctx context.Context, fp string) (cachedProposal, bool) {
	data, ok, err := r.cache.Get(ctx, fp)
	if err != nil {
		zap.L().Warn("assistant cache read failed", zap.Error(err))
		return cachedProposal{}, false
	}
	if !ok {
		return cachedProposal{}, false
	}
	var p cachedProposal
	if err := json.Unmarshal(data, &p); err != nil {
		return cachedProposal{}, false
	}
	return p, true
}

// store writes the proposal with first-writer-wins semantics and returns the
// entry that actually won, so concurrent workers converge on one answer.
func (r *Resolver) store(ctx context.Context, fp string, p cachedProposal) (cachedProposal, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return p, err
	}
	won, err := r.cache.PutIfAbsent(ctx, fp, data)
	if err != nil {
		zap.L().Warn("assistant cache write failed", zap.Error(err))
		return p, nil
	}
	if won {
		return p, nil
	}
	if winner, ok := r.lookup(ctx, fp); ok {
		return winner, nil
	}
	return p, nil
}

// accept applies a proposal when it clears the confidence threshold and
// parses as the requested field type.
func (r *Resolver) accept(rec *model.NormalizedLeaseRecord, field model.FieldKind, fp string, p cachedProposal) (model.AssistantProvenance, bool) {
	if p.Value == "" || p.Confidence < r.opts.AcceptThreshold {
		return model.AssistantProvenance{}, false
	}
	if err := applyValue(rec, field, p.Value); err != nil {
		zap.L().Warn("assistant proposal rejected",
			zap.String("field", string(field)),
			zap.String("value", p.Value),
			zap.Error(err))
		return model.AssistantProvenance{}, false
	}
	return model.AssistantProvenance{
		Model:       p.Model,
		Fingerprint: fp,
		Confidence:  p.Confidence,
	}, true
}

func applyValue(rec *model.NormalizedLeaseRecord, field model.FieldKind, value string) error {
	switch field {
	case model.FieldStartDate, model.FieldExpiryDate:
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return eris.Wrapf(err, "assist: parse %s", field)
		}
		if field == model.FieldStartDate {
			rec.StartDate = &t
		} else {
			rec.ExpiryDate = &t
		}
	case model.FieldTermYears:
		years, err := strconv.ParseFloat(value, 64)
		if err != nil || years <= 0 {
			return eris.Errorf("assist: term years %q", value)
		}
		rec.Term = &model.TermDuration{Years: years}
	case model.FieldRemainingYears:
		remaining, err := strconv.ParseFloat(value, 64)
		if err != nil || remaining < 0 {
			return eris.Errorf("assist: remaining years %q", value)
		}
		rec.RemainingYears = &remaining
		rec.Flags.Clear(model.FlagRemainingUnavailable)
	default:
		return eris.Errorf("assist: unknown field %q", field)
	}
	rec.SetStatus(field, model.ParseFull)
	return nil
}
