// Package workflow holds named prompt templates and renders them into
// model prompts.
package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	ErrNotFound        = errors.New("workflow not found")
	ErrInvalidWorkflow = errors.New("invalid workflow document")
)

const defaultEvaluationType = "offline"

// Workflow is a prompt template plus the metadata shown to users.
// EvaluationType is informational; composition ignores it.
type Workflow struct {
	Key            string `json:"-"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	PromptTemplate string `json:"prompt_template"`
	EvaluationType string `json:"evaluation_type"`
}

//go:embed workflow.schema.json
var schemaDoc []byte

const schemaURL = "schema://workflow.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Parse validates a workflow document and decodes it.
func Parse(key string, b []byte) (*Workflow, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidWorkflow, key, err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidWorkflow, key, err)
	}

	var wf Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidWorkflow, key, err)
	}
	wf.Key = key
	if wf.EvaluationType == "" {
		wf.EvaluationType = defaultEvaluationType
	}
	return &wf, nil
}
