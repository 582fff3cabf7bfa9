// Package score assigns per-field and aggregate confidence to resolved
// records. Method assignment is exclusive: a field was resolved by the rule
// engine, by the assistant, or not at all.
package score

import (
	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/rules"
)

// scoredFields is the set of fields that carry confidence.
var scoredFields = []model.FieldKind{
	model.FieldStartDate,
	model.FieldTermYears,
	model.FieldRemainingYears,
	model.FieldExpiryDate,
}

// Scorer computes confidence. AssistantCeiling keeps assistant resolutions
// strictly below deterministic ones.
type Scorer struct {
	AssistantCeiling float64
}

func New(ceiling float64) Scorer {
	if ceiling <= 0 || ceiling > 1 {
		ceiling = 0.8
	}
	return Scorer{AssistantCeiling: ceiling}
}

// Score builds the final scored record from the post-assistant record, the
// rule engine outcomes, and the assistant provenance map.
func (s Scorer) Score(
	rec model.NormalizedLeaseRecord,
	outcomes map[model.FieldKind]rules.FieldOutcome,
	resolved map[model.FieldKind]model.AssistantProvenance,
) model.ScoredRecord {
	sr := model.ScoredRecord{
		NormalizedLeaseRecord: rec.Clone(),
		Fields:                make(map[model.FieldKind]model.FieldConfidence, len(scoredFields)),
	}
	if len(resolved) > 0 {
		sr.Provenance = make(map[model.FieldKind]model.AssistantProvenance, len(resolved))
		for f, p := range resolved {
			sr.Provenance[f] = p
		}
	}

	for _, f := range scoredFields {
		sr.Fields[f] = s.scoreField(&sr.NormalizedLeaseRecord, f, outcomes[f], resolved)
	}

	sr.Aggregate = 1
	for _, f := range model.MandatoryFields {
		if c := sr.Fields[f]; c.Score < sr.Aggregate {
			sr.Aggregate = c.Score
		}
	}

	// Cross-field consistency that survived resolution is surfaced, never
	// silently repaired.
	if sr.Term != nil && sr.RemainingYears != nil && *sr.RemainingYears > sr.Term.TotalYears() {
		sr.Flags.Add(model.FlagCrossSourceConflict)
	}

	return sr
}

func (s Scorer) scoreField(
	rec *model.NormalizedLeaseRecord,
	f model.FieldKind,
	outcome rules.FieldOutcome,
	resolved map[model.FieldKind]model.AssistantProvenance,
) model.FieldConfidence {
	if prov, ok := resolved[f]; ok {
		return model.FieldConfidence{
			Score:  s.AssistantCeiling * prov.Confidence,
			Method: model.MethodAssistant,
		}
	}

	deterministic := hasValue(rec, f) &&
		rec.Status(f) == model.ParseFull &&
		!outcome.Conflict &&
		(len(outcome.Failed) == 0 || outcome.CorrectedBy != "")

	// A correction that another rule still fails is not trustworthy.
	if outcome.CorrectedBy != "" && len(outcome.Failed) > 0 {
		deterministic = false
	}

	if deterministic {
		return model.FieldConfidence{Score: 1, Method: model.MethodRuleEngine}
	}
	return model.FieldConfidence{Score: 0, Method: model.MethodUnresolved}
}

func hasValue(rec *model.NormalizedLeaseRecord, f model.FieldKind) bool {
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
