// Package evaluation models evaluation results and recovers them from raw
// model or notebook output.
package evaluation

import (
	"encoding/json"
)

// NotAvailable is the overall_score of a degraded result.
var NotAvailable = json.RawMessage(`"N/A"`)

// Result is the recognized evaluation shape. OverallScore is kept raw
// because models emit numbers, strings like "7/10", or "N/A".
type Result struct {
	OverallScore  json.RawMessage            `json:"overall_score"`
	Feedback      string                     `json:"feedback"`
	ConceptScores map[string]json.RawMessage `json:"concept_scores"`
	WorkflowType  string                     `json:"workflow_type,omitempty"`
}

// Kind tags which side of the Outcome union is populated.
type Kind int

const (
	// KindOpaque is decoded JSON of any other shape, passed through unchanged.
	KindOpaque Kind = iota
	// KindRecognized has overall_score, a string feedback and an object concept_scores.
	KindRecognized
)

func (k Kind) String() string {
	if k == KindRecognized {
		return "recognized"
	}
	return "opaque"
}

// Outcome is what a caller gets back from parsing: either a Recognized
// Result or an Opaque JSON value. It marshals to the payload exactly as
// decoded, so clients see what the model or notebook produced.
type Outcome struct {
	Kind   Kind
	Result *Result
	// Fallback marks results synthesized locally because the output could
	// not be decoded.
	Fallback bool

	raw json.RawMessage
}

// Raw returns the payload the outcome was built from.
func (o Outcome) Raw() json.RawMessage { return o.raw }

func (o Outcome) MarshalJSON() ([]byte, error) {
	if len(o.raw) == 0 {
		return []byte("null"), nil
	}
	return o.raw, nil
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	out, err := Decode(b)
	if err != nil {
		return err
	}
	*o = out
	return nil
}

// Decode strictly decodes a JSON payload and classifies it.
func Decode(b []byte) (Outcome, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Kind: KindOpaque, raw: append(json.RawMessage(nil), b...)}

	var fields map[string]json.RawMessage
	if json.Unmarshal(b, &fields) == nil {
		if res, ok := recognize(fields); ok {
			out.Kind = KindRecognized
			out.Result = res
		}
	}
	return out, nil
}

func recognize(fields map[string]json.RawMessage) (*Result, bool) {
	score, ok := fields["overall_score"]
	if !ok {
		return nil, false
	}
	res := &Result{OverallScore: score}
	feedback := fields["feedback"]
	if len(feedback) == 0 || feedback[0] != '"' {
		return nil, false
	}
	if err := json.Unmarshal(feedback, &res.Feedback); err != nil {
		return nil, false
	}
	if err := json.Unmarshal(fields["concept_scores"], &res.ConceptScores); err != nil || res.ConceptScores == nil {
		return nil, false
	}
	if wt, ok := fields["workflow_type"]; ok {
		_ = json.Unmarshal(wt, &res.WorkflowType)
	}
	return res, true
}

// NewFallback builds the degraded result: score "N/A", the given feedback
// and no concept scores.
func NewFallback(feedback, workflowType string) Outcome {
	res := &Result{
		OverallScore:  NotAvailable,
		Feedback:      feedback,
		ConceptScores: map[string]json.RawMessage{},
		WorkflowType:  workflowType,
	}
	raw, _ := json.Marshal(res)
	return Outcome{Kind: KindRecognized, Result: res, Fallback: true, raw: raw}
}
