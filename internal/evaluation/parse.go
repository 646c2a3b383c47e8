package evaluation

import (
	"strings"

	"genai-assessor/internal/rubric"
)

// ParseResponse recovers an evaluation from model output. It decodes the
// span from the first '{' to the last '}'; when there is no such span or
// it is not valid JSON, the whole text becomes the feedback of a fallback
// result. It never fails.
//
// The rubric is accepted for rubric-aware repair of malformed output but
// is currently unused.
func ParseResponse(text string, _ *rubric.Rubric) Outcome {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		if out, err := Decode([]byte(text[start : end+1])); err == nil {
			return out
		}
	}
	return NewFallback(text, "")
}
