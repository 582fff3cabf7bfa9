package model

// ConfidenceMethod records how a field's final value was produced.
type ConfidenceMethod string

const (
	MethodRuleEngine ConfidenceMethod = "rule-engine"
	MethodAssistant  ConfidenceMethod = "assistant"
	MethodUnresolved ConfidenceMethod = "unresolved"
)

// FieldConfidence is a bounded [0,1] score plus the method that produced it.
// Recomputed on every run that touches the record; never carried forward.
type FieldConfidence struct {
	Score  float64          `json:"score"`
	Method ConfidenceMethod `json:"method"`
}

// AssistantProvenance records an assistant resolution for audit.
type AssistantProvenance struct {
	Model       string  `json:"model"`
	Fingerprint string  `json:"fingerprint"`
	Confidence  float64 `json:"confidence"`
}

// ScoredRecord is a normalized record plus per-field and aggregate
// confidence, ready for the merge engine.
type ScoredRecord struct {
	NormalizedLeaseRecord

	Fields    map[FieldKind]FieldConfidence `json:"fields"`
	Aggregate float64                       `json:"aggregate"`

	// Provenance holds one entry per assistant-resolved field.
	Provenance map[FieldKind]AssistantProvenance `json:"provenance,omitempty"`
}

// FieldScore returns the confidence for a field, defaulting to unresolved.
func (r *ScoredRecord) FieldScore(f FieldKind) FieldConfidence {
	if c, ok := r.Fields[f]; ok {
		return c
	}
	return FieldConfidence{Score: 0, Method: MethodUnresolved}
}
