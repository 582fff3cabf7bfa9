// Package pipeline wires the batch stages together: normalize, rule
// evaluation, assistant escalation, scoring, address enrichment, and the
// merge into the golden record store. One Run per batch file.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leasedata/goldenrec/internal/addressref"
	"github.com/leasedata/goldenrec/internal/assist"
	"github.com/leasedata/goldenrec/internal/cache"
	"github.com/leasedata/goldenrec/internal/merge"
	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/normalize"
	"github.com/leasedata/goldenrec/internal/rules"
	"github.com/leasedata/goldenrec/internal/score"
	"github.com/leasedata/goldenrec/internal/store"
)

// Options tunes a pipeline instance. Zero values fall back to safe defaults.
type Options struct {
	Workers      int
	MergeRetries int
	Assist       assist.Options
	ScoreCeiling float64
}

// Pipeline holds the per-process stages. The assistant resolver is created
// per batch because its invocation ceiling is batch-scoped.
type Pipeline struct {
	store    store.Store
	provider assist.Provider
	cache    cache.Cache
	address  addressref.Client
	engine   *rules.Engine
	scorer   score.Scorer
	merger   *merge.Engine
	opts     Options
}

// New builds a pipeline. provider may be nil to disable the assistant and
// address may be nil to disable enrichment; both degrade to flags.
func New(st store.Store, provider assist.Provider, c cache.Cache, address addressref.Client, ruleCfg rules.Config, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MergeRetries <= 0 {
		opts.MergeRetries = 3
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Pipeline{
		store:    st,
		provider: provider,
		cache:    c,
		address:  address,
		engine:   rules.NewEngine(ruleCfg),
		scorer:   score.New(opts.ScoreCeiling),
		merger:   merge.New(st, opts.MergeRetries),
		opts:     opts,
	}
}

// Params describes one batch run.
type Params struct {
	BatchID   string
	Type      model.BatchType
	Reference time.Time
	Records   []model.RawLeaseRecord
	// RowsRejected is the ingest reject count, carried into the report.
	RowsRejected int
}

// Run processes a batch end to end and records its report. Store
// unavailability is fatal and returns an error; everything else degrades to
// flags and report counters.
func (p *Pipeline) Run(ctx context.Context, params Params) (*model.BatchReport, error) {
	started := time.Now()

	report := &model.BatchReport{
		BatchID:      params.BatchID,
		Type:         params.Type,
		RowsTotal:    len(params.Records) + params.RowsRejected,
		RowsRejected: params.RowsRejected,
		StartedAt:    started,
	}

	prior, err := p.store.GetBatchRun(ctx, params.BatchID)
	if err != nil {
		return p.fail(ctx, report, started, eris.Wrap(err, "pipeline: batch run lookup"))
	}
	if prior != nil {
		// Replaying an applied batch is allowed and converges to no-ops.
		zap.L().Info("batch previously applied, replaying",
			zap.String("batch_id", params.BatchID),
			zap.Time("first_run", prior.StartedAt))
	}

	var resolver *assist.Resolver
	if p.provider != nil {
		resolver = assist.NewResolver(p.provider, p.cache, p.opts.Assist)
	}

	scored, unresolvedFields, err := p.process(ctx, params, resolver)
	if err != nil {
		return p.fail(ctx, report, started, err)
	}
	report.UnresolvedFields = unresolvedFields
	if resolver != nil {
		report.AssistantInvocations = resolver.Invocations()
		report.AssistantBoundHit = resolver.BoundHit()
	}

	cs, conflictKeys, err := p.merger.Run(ctx, params.BatchID, params.Type, scored)
	if err != nil {
		return p.fail(ctx, report, started, err)
	}
	report.ConflictKeys = conflictKeys

	counts := cs.Counts()
	report.Inserts = counts[model.OpInsert]
	report.Updates = counts[model.OpUpdate]
	report.Deletes = counts[model.OpDelete]
	report.Noops = counts[model.OpNoop]
	report.Duration = time.Since(started)

	if err := p.store.RecordBatchRun(ctx, report); err != nil {
		return report, eris.Wrap(err, "pipeline: record batch run")
	}

	zap.L().Info("batch complete",
		zap.String("batch_id", params.BatchID),
		zap.String("type", string(params.Type)),
		zap.Int("rows", report.RowsTotal),
		zap.Int("rejected", report.RowsRejected),
		zap.Int("inserts", report.Inserts),
		zap.Int("updates", report.Updates),
		zap.Int("deletes", report.Deletes),
		zap.Int("noops", report.Noops),
		zap.Int("unresolved_fields", report.UnresolvedFields),
		zap.Int("assistant_invocations", report.AssistantInvocations),
		zap.Strings("conflict_keys", report.ConflictKeys),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// process runs stages 2 through 5 concurrently and joins results back in
// input order.
func (p *Pipeline) process(ctx context.Context, params Params, resolver *assist.Resolver) ([]*model.ScoredRecord, int, error) {
	norm := normalize.New(params.Reference)
	out := make([]*model.ScoredRecord, len(params.Records))
	unresolved := make([]int, len(params.Records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, raw := range params.Records {
		i, raw := i, raw
		g.Go(func() error {
			sr, n := p.processOne(gctx, norm, params.Reference, raw, resolver)
			out[i] = sr
			unresolved[i] = n
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: batch cancelled")
	}

	var total int
	for _, n := range unresolved {
		total += n
	}
	return out, total, nil
}

func (p *Pipeline) processOne(ctx context.Context, norm *normalize.Normalizer, ref time.Time, raw model.RawLeaseRecord, resolver *assist.Resolver) (*model.ScoredRecord, int) {
	rec := norm.Normalize(raw)
	if rec.Deleted {
		sr := model.ScoredRecord{NormalizedLeaseRecord: rec}
		return &sr, 0
	}

	eval := p.engine.Evaluate(rec, ref)

	escalate := escalations(eval)
	var resolved map[model.FieldKind]model.AssistantProvenance
	var stillUnresolved int
	post := eval.Record
	if len(escalate) > 0 && resolver != nil {
		res := resolver.Resolve(ctx, eval.Record, escalate)
		post = res.Record
		resolved = res.Resolved
		stillUnresolved = len(res.Unresolved)
	} else {
		stillUnresolved = len(escalate)
	}

	sr := p.scorer.Score(post, eval.Fields, resolved)

	if p.address != nil {
		p.enrich(ctx, &sr)
	}
	return &sr, stillUnresolved
}

// escalations is the assistant's work list for one record: fields the rule
// engine left unresolved, plus fields that never parsed and carry no value
// (the rule engine only reports on fields it has findings for).
func escalations(eval rules.Evaluation) []model.FieldKind {
	set := make(map[model.FieldKind]struct{})
	for _, f := range eval.Unresolved() {
		set[f] = struct{}{}
	}
	rec := &eval.Record
	for _, f := range []model.FieldKind{model.FieldStartDate, model.FieldTermYears, model.FieldRemainingYears, model.FieldExpiryDate} {
		if rec.Status(f) != model.ParseFull && !fieldHasValue(rec, f) {
			set[f] = struct{}{}
		}
	}

	out := make([]model.FieldKind, 0, len(set))
	for _, f := range []model.FieldKind{model.FieldStartDate, model.FieldTermYears, model.FieldRemainingYears, model.FieldExpiryDate} {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func fieldHasValue(rec *model.NormalizedLeaseRecord, f model.FieldKind) bool {
	switch f {
	case model.FieldStartDate:
		return rec.StartDate != nil
	case model.FieldTermYears:
		return rec.Term != nil
	case model.FieldRemainingYears:
		return rec.RemainingYears != nil
	case model.FieldExpiryDate:
		return rec.ExpiryDate != nil
	}
	return false
}

// enrich attaches the address link; failure flags the record and moves on.
func (p *Pipeline) enrich(ctx context.Context, sr *model.ScoredRecord) {
	if sr.PropertyID == "" {
		sr.Flags.Add(model.FlagPropertyUnlinked)
		return
	}
	link, err := p.address.Resolve(ctx, sr.PropertyID)
	if err != nil {
		zap.L().Warn("address lookup failed",
			zap.String("title_number", sr.TitleNumber),
			zap.String("property_id", sr.PropertyID),
			zap.Error(err))
	}
	if link == nil {
		sr.Flags.Add(model.FlagPropertyUnlinked)
		return
	}
	sr.Address = link
}

// fail stamps the report fatal and records it on a best-effort basis.
func (p *Pipeline) fail(ctx context.Context, report *model.BatchReport, started time.Time, err error) (*model.BatchReport, error) {
	report.FatalError = err.Error()
	report.Duration = time.Since(started)
	if recErr := p.store.RecordBatchRun(ctx, report); recErr != nil {
		zap.L().Error("pipeline: record failed batch run", zap.Error(recErr))
	}
	return report, err
}
