// Package rules runs ordered, deterministic validation and correction rules
// over normalized lease records. Rules either fail a field or propose a
// correction; the first correcting rule wins, and two rules proposing
// different corrections for the same field leave it unresolved with a
// conflict flag for the assistant to pick up.
package rules

import (
	"time"

	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/model"
)

// FindingKind distinguishes a field failure from a proposed correction.
type FindingKind int

const (
	Fail FindingKind = iota
	Correct
)

// Finding is one rule's verdict on one field.
type Finding struct {
	Field model.FieldKind
	Kind  FindingKind

	// Flag is an extra quality flag attached on failure.
	Flag model.QualityFlag

	// Proposal is the canonical string form of a correction, compared across
	// rules to detect conflicts.
	Proposal string

	// Apply writes the corrected value.
	Apply func(*model.NormalizedLeaseRecord)
}

// Rule inspects a record and reports findings. Rules must be deterministic:
// same record and reference date, same findings.
type Rule interface {
	Name() string
	Evaluate(rec *model.NormalizedLeaseRecord, ref time.Time) []Finding
}

// FieldOutcome summarizes what the engine did to one field.
type FieldOutcome struct {
	CorrectedBy string
	Proposal    string
	Failed      []string
	Conflict    bool
}

// Evaluation is the engine's output: the (possibly corrected) record plus
// per-field outcomes.
type Evaluation struct {
	Record model.NormalizedLeaseRecord
	Fields map[model.FieldKind]FieldOutcome
}

// Unresolved lists fields that need the assistant: failed without a
// correction, or corrected ambiguously.
func (e Evaluation) Unresolved() []model.FieldKind {
	var out []model.FieldKind
	for _, f := range []model.FieldKind{model.FieldStartDate, model.FieldTermYears, model.FieldRemainingYears, model.FieldExpiryDate} {
		fo, ok := e.Fields[f]
		if !ok {
			continue
		}
		if fo.Conflict || (fo.CorrectedBy == "" && len(fo.Failed) > 0) {
			out = append(out, f)
		}
	}
	return out
}

// Engine holds the ordered rule list.
type Engine struct {
	rules []Rule
}

// NewEngine builds the standard ordered rule set, honoring cfg.Disabled.
func NewEngine(cfg Config) *Engine {
	all := []Rule{
		&ocrSubstitution{cfg: cfg},
		&termBounds{cfg: cfg},
		&startNotFuture{},
		&startNotBefore{cfg: cfg},
		&remainingWithinTerm{},
		&expiryConsistent{cfg: cfg},
	}
	var kept []Rule
	for _, r := range all {
		if !cfg.disabled(r.Name()) {
			kept = append(kept, r)
		}
	}
	return &Engine{rules: kept}
}

// NewEngineWith builds an engine over an explicit rule list.
func NewEngineWith(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs the rules in order against a copy of the record. Rules see
// the effects of earlier corrections, so a repaired term string is validated
// by the bounds and consistency rules downstream.
func (e *Engine) Evaluate(rec model.NormalizedLeaseRecord, ref time.Time) Evaluation {
	rec = rec.Clone()
	original := rec.Clone()
	ev := Evaluation{Fields: make(map[model.FieldKind]FieldOutcome)}

	for _, r := range e.rules {
		for _, f := range r.Evaluate(&rec, ref) {
			fo := ev.Fields[f.Field]
			switch f.Kind {
			case Fail:
				fo.Failed = append(fo.Failed, r.Name())
				if f.Flag != "" {
					rec.Flags.Add(f.Flag)
				}
			case Correct:
				switch {
				case fo.Conflict:
					// Already conflicted; ignore further proposals.
				case fo.CorrectedBy == "":
					fo.CorrectedBy = r.Name()
					fo.Proposal = f.Proposal
					f.Apply(&rec)
					rec.Flags.Add(model.FlagRuleCorrected)
				case fo.Proposal != f.Proposal:
					fo.Conflict = true
					fo.CorrectedBy = ""
					restoreField(&rec, original, f.Field)
					rec.Flags.Add(model.FlagRuleConflict)
					zap.L().Debug("rule conflict",
						zap.String("title_number", rec.TitleNumber),
						zap.String("field", string(f.Field)),
						zap.String("rule", r.Name()))
				}
			}
			ev.Fields[f.Field] = fo
		}
	}

	ev.Record = rec
	return ev
}

// restoreField puts a conflicted field back to its pre-engine value so a
// half-applied correction never leaks out.
func restoreField(rec *model.NormalizedLeaseRecord, original model.NormalizedLeaseRecord, f model.FieldKind) {
	switch f {
	case model.FieldStartDate:
		rec.StartDate = original.StartDate
	case model.FieldTermYears:
		rec.Term = original.Term
	case model.FieldRemainingYears:
		rec.RemainingYears = original.RemainingYears
	case model.FieldExpiryDate:
		rec.ExpiryDate = original.ExpiryDate
	}
}
