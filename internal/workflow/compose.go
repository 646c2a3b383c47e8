package workflow

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"genai-assessor/internal/rubric"
)

var (
	ErrMissingParameter  = errors.New("missing required parameter for workflow")
	ErrMalformedTemplate = errors.New("malformed prompt template")
)

// MissingParameterError names the first placeholder that had no value.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter for workflow: '%s'", e.Name)
}

func (e *MissingParameterError) Is(target error) bool { return target == ErrMissingParameter }

// Compose renders wf's template with values. When r is non-nil it also
// provides rubric_text and, unless values already has one, key_concepts.
// values is not modified.
func Compose(wf *Workflow, values map[string]string, r *rubric.Rubric) (string, error) {
	params := make(map[string]string, len(values)+2)
	maps.Copy(params, values)
	if r != nil {
		params["rubric_text"] = r.Text()
		if _, ok := params["key_concepts"]; !ok {
			params["key_concepts"] = strings.Join(r.KeyConcepts(), ", ")
		}
	}
	return Render(wf.PromptTemplate, params)
}

// Render substitutes {name} placeholders in one left-to-right pass.
// "{{" and "}}" produce literal braces. Substituted text is not rescanned.
func Render(tmpl string, params map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		switch c := tmpl[i]; c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexAny(tmpl[i+1:], "{}")
			if end < 0 || tmpl[i+1+end] != '}' {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedTemplate, i)
			}
			name := tmpl[i+1 : i+1+end]
			v, ok := params[name]
			if !ok {
				return "", &MissingParameterError{Name: name}
			}
			b.WriteString(v)
			i += end + 2
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrMalformedTemplate, i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}
