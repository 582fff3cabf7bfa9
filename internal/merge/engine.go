// Package merge diffs a scored batch against the golden record store and
// applies only what changed. All writes go through versioned change sets;
// nothing in the store is ever mutated outside one.
package merge

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/resilience"
	"github.com/leasedata/goldenrec/internal/store"
)

// Engine plans and applies change sets.
type Engine struct {
	store   store.Store
	retries int
}

// New builds a merge engine. retries bounds version-conflict replans; values
// below 1 mean a single attempt.
func New(st store.Store, retries int) *Engine {
	if retries < 1 {
		retries = 1
	}
	return &Engine{store: st, retries: retries}
}

// Plan computes the ordered change set for a batch. It reads current store
// state per key; it writes nothing.
func (e *Engine) Plan(ctx context.Context, batchID string, batchType model.BatchType, records []*model.ScoredRecord) (*model.ChangeSet, error) {
	cs := &model.ChangeSet{BatchID: batchID, Type: batchType}
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		key := rec.TitleNumber
		seen[key] = true

		current, err := e.store.GetByKey(ctx, key)
		if err != nil {
			return nil, eris.Wrapf(err, "merge: read %s", key)
		}

		entry, err := planEntry(key, rec, current)
		if err != nil {
			return nil, err
		}
		cs.Entries = append(cs.Entries, entry)
	}

	// A full refresh carries the complete universe: live keys it omits are
	// deletions. A change-only batch says nothing about absent keys.
	if batchType == model.BatchFullRefresh {
		liveKeys, err := e.store.ListCurrentKeys(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "merge: list current keys")
		}
		for _, key := range liveKeys {
			if seen[key] {
				continue
			}
			current, err := e.store.GetByKey(ctx, key)
			if err != nil {
				return nil, eris.Wrapf(err, "merge: read %s", key)
			}
			cs.Entries = append(cs.Entries, model.ChangeEntry{
				Key:    key,
				Op:     model.OpDelete,
				Before: current,
			})
		}
	}

	sort.Slice(cs.Entries, func(i, j int) bool { return cs.Entries[i].Key < cs.Entries[j].Key })
	return cs, nil
}

// planEntry decides one key's transition.
func planEntry(key string, rec *model.ScoredRecord, current *model.GoldenRecord) (model.ChangeEntry, error) {
	// Explicit tombstone row in the batch.
	if rec.Deleted {
		if current == nil || current.Deleted {
			return model.ChangeEntry{Key: key, Op: model.OpNoop, Before: current}, nil
		}
		return model.ChangeEntry{Key: key, Op: model.OpDelete, Before: current}, nil
	}

	candidate := model.FromScored(rec)
	switch {
	case current == nil:
		return model.ChangeEntry{Key: key, Op: model.OpInsert, After: candidate}, nil
	case current.ContentEqual(candidate):
		return model.ChangeEntry{Key: key, Op: model.OpNoop, Before: current}, nil
	default:
		// Covers tombstone revival too: new content over a deleted record is
		// an update that clears the marker.
		return model.ChangeEntry{Key: key, Op: model.OpUpdate, Before: current, After: candidate}, nil
	}
}

// Run plans and applies a batch. Version conflicts replan from fresh store
// state up to the retry bound; keys still conflicting after that are
// reported, not fatal.
func (e *Engine) Run(ctx context.Context, batchID string, batchType model.BatchType, records []*model.ScoredRecord) (*model.ChangeSet, []string, error) {
	cfg := resilience.RetryConfig{
		MaxAttempts: e.retries,
		ShouldRetry: store.IsVersionConflict,
		OnRetry: func(attempt int, err error) {
			zap.L().Warn("merge: version conflict, replanning",
				zap.String("batch_id", batchID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
	}

	cs, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ChangeSet, error) {
		cs, err := e.Plan(ctx, batchID, batchType, records)
		if err != nil {
			return nil, err
		}
		if err := e.store.ApplyChangeSet(ctx, cs); err != nil {
			return nil, err
		}
		return cs, nil
	})
	if err != nil {
		var vc *store.VersionConflictError
		if eris.As(err, &vc) {
			zap.L().Warn("merge: retries exhausted",
				zap.String("batch_id", batchID),
				zap.String("title_number", vc.TitleNumber))
			if cs == nil {
				cs = &model.ChangeSet{BatchID: batchID, Type: batchType}
			}
			return cs, []string{vc.TitleNumber}, nil
		}
		return nil, nil, err
	}
	return cs, nil, nil
}
