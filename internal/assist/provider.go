// Package assist resolves fields the rule engine could not, by asking a
// language model for a bounded, cached, rate-limited second opinion. The
// assistant never overrides rule-resolved fields and its answers are capped
// below rule confidence downstream.
package assist

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/pkg/anthropic"
)

// ErrAssistantUnavailable marks provider transport failures. Callers leave
// the field unresolved and continue; it is never batch-fatal.
var ErrAssistantUnavailable = eris.New("assist: provider unavailable")

// FieldRequest asks for one attribute of one lease term string. It carries
// no record identity so identical text produces identical requests across
// records and batches.
type FieldRequest struct {
	Field   model.FieldKind
	RawTerm string
}

// Proposal is the provider's answer. An empty Value means the provider could
// not determine the attribute from the text.
type Proposal struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// Provider produces proposals for unresolved fields.
type Provider interface {
	Propose(ctx context.Context, req FieldRequest) (Proposal, error)
}

const systemPrompt = `You are a data quality assistant for UK residential leasehold records.
You are given the raw lease term text from a land registry extract and asked for one attribute.
Respond with strict JSON only, no prose, no markdown fences:
{"value": <string or null>, "confidence": <number 0.0-1.0>}
Use null for value when the text does not determine the attribute. Never guess.`

var fieldInstructions = map[model.FieldKind]string{
	model.FieldStartDate:      `the lease start date, formatted "YYYY-MM-DD"`,
	model.FieldExpiryDate:     `the lease expiry date, formatted "YYYY-MM-DD"`,
	model.FieldTermYears:      `the lease term length in years, as a decimal number string like "99" or "97.75"`,
	model.FieldRemainingYears: `the whole years remaining on the lease today, as a number string`,
}

// Anthropic is the production Provider, built over the SDK wrapper.
type Anthropic struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model}
}

func (a *Anthropic) Propose(ctx context.Context, req FieldRequest) (Proposal, error) {
	instruction, ok := fieldInstructions[req.Field]
	if !ok {
		return Proposal{}, eris.Errorf("assist: unknown field %q", req.Field)
	}

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   256,
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Lease term text: " + req.RawTerm + "\n\nExtract " + instruction + ".",
		}},
	})
	if err != nil {
		return Proposal{}, eris.Wrap(ErrAssistantUnavailable, err.Error())
	}
	resp.Usage.LogCost(a.model, "assist")

	p, err := parseProposal(resp.Text)
	if err != nil {
		return Proposal{}, err
	}
	p.Model = resp.Model
	return p, nil
}

// parseProposal decodes the strict-JSON answer, tolerating stray fences from
// models that wrap output despite instructions.
func parseProposal(text string) (Proposal, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw struct {
		Value      *string `json:"value"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Proposal{}, eris.Wrap(err, "assist: decode proposal")
	}

	p := Proposal{Confidence: raw.Confidence}
	if raw.Value != nil {
		p.Value = strings.TrimSpace(*raw.Value)
	}
	return p, nil
}
