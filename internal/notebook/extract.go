package notebook

import (
	"fmt"
	"strings"

	"genai-assessor/internal/evaluation"
)

// Sentinel is the text a notebook prints right before its final JSON
// evaluation.
const Sentinel = "Final Evaluation Results"

const (
	workflowType      = "notebook"
	unrecognizedError = "Notebook executed but results format not recognized"
)

// Extract finds the evaluation a notebook printed. Groups are scanned
// last to first and outputs in order, so the most recently printed result
// wins. A candidate whose JSON does not decode is skipped in favour of an
// earlier one.
func Extract(t *Trace) evaluation.Outcome {
	var lastErr error
	if t != nil {
		for i := len(t.Outputs) - 1; i >= 0; i-- {
			for _, o := range t.Outputs[i].Outputs {
				if o.Kind != OutputStream || !strings.Contains(o.Text, Sentinel) {
					continue
				}
				start := strings.IndexByte(o.Text, '{')
				if start < 0 {
					continue
				}
				out, err := evaluation.Decode([]byte(o.Text[start:]))
				if err == nil {
					return out
				}
				if lastErr == nil {
					lastErr = err
				}
			}
		}
	}
	if lastErr != nil {
		return evaluation.NewFallback(fmt.Sprintf("Error parsing notebook results: %v", lastErr), workflowType)
	}
	return evaluation.NewFallback(unrecognizedError, workflowType)
}
