// Package notebook executes parameterized Jupyter notebooks and extracts
// the evaluation they print.
package notebook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrInvalidNotebook = errors.New("invalid notebook document")

type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// Text is nbformat multiline text. Files store it either as one string or
// as a list of lines; both decode to the joined string.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '[':
		var lines []string
		if err := json.Unmarshal(b, &lines); err != nil {
			return err
		}
		*t = Text(strings.Join(lines, ""))
	default:
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	}
	return nil
}

// Document is an nbformat v4 notebook. Cell order is execution order.
type Document struct {
	Cells         []Cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// MarshalJSON fills the metadata and format version nbformat requires.
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	p := plain(d)
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	if p.NBFormat == 0 {
		p.NBFormat = 4
	}
	if p.Cells == nil {
		p.Cells = []Cell{}
	}
	return json.Marshal(p)
}

type Cell struct {
	ID             string         `json:"id,omitempty"`
	CellType       CellType       `json:"cell_type"`
	Metadata       map[string]any `json:"metadata"`
	Source         Text           `json:"source"`
	ExecutionCount *int           `json:"execution_count"`
	Outputs        []Output       `json:"outputs"`
}

// MarshalJSON omits execution_count and outputs from non-code cells, which
// nbformat rejects.
func (c Cell) MarshalJSON() ([]byte, error) {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if c.CellType != CellCode {
		return json.Marshal(struct {
			ID       string         `json:"id,omitempty"`
			CellType CellType       `json:"cell_type"`
			Metadata map[string]any `json:"metadata"`
			Source   Text           `json:"source"`
		}{c.ID, c.CellType, meta, c.Source})
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []Output{}
	}
	return json.Marshal(struct {
		ID             string         `json:"id,omitempty"`
		CellType       CellType       `json:"cell_type"`
		Metadata       map[string]any `json:"metadata"`
		Source         Text           `json:"source"`
		ExecutionCount *int           `json:"execution_count"`
		Outputs        []Output       `json:"outputs"`
	}{c.ID, c.CellType, meta, c.Source, c.ExecutionCount, outputs})
}

// Output is one entry of a code cell's outputs, as written by the kernel.
type Output struct {
	OutputType     string         `json:"output_type"`
	Name           string         `json:"name,omitempty"`
	Text           Text           `json:"text,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	EName          string         `json:"ename,omitempty"`
	EValue         string         `json:"evalue,omitempty"`
	Traceback      []string       `json:"traceback,omitempty"`
}

// MarshalJSON writes the fields nbformat requires for the output type,
// keeping empty text, empty metadata and a null execution_count.
func (o Output) MarshalJSON() ([]byte, error) {
	data, meta := o.Data, o.Metadata
	if data == nil {
		data = map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	switch o.OutputType {
	case "stream":
		return json.Marshal(struct {
			OutputType string `json:"output_type"`
			Name       string `json:"name"`
			Text       Text   `json:"text"`
		}{o.OutputType, o.Name, o.Text})
	case "display_data":
		return json.Marshal(struct {
			OutputType string         `json:"output_type"`
			Data       map[string]any `json:"data"`
			Metadata   map[string]any `json:"metadata"`
		}{o.OutputType, data, meta})
	case "execute_result":
		return json.Marshal(struct {
			OutputType     string         `json:"output_type"`
			Data           map[string]any `json:"data"`
			Metadata       map[string]any `json:"metadata"`
			ExecutionCount *int           `json:"execution_count"`
		}{o.OutputType, data, meta, o.ExecutionCount})
	case "error":
		tb := o.Traceback
		if tb == nil {
			tb = []string{}
		}
		return json.Marshal(struct {
			OutputType string   `json:"output_type"`
			EName      string   `json:"ename"`
			EValue     string   `json:"evalue"`
			Traceback  []string `json:"traceback"`
		}{o.OutputType, o.EName, o.EValue, tb})
	}
	type plain Output
	return json.Marshal(plain(o))
}

// InsertCell puts c at index i, shifting later cells down by one.
func (d *Document) InsertCell(i int, c Cell) {
	d.Cells = append(d.Cells, Cell{})
	copy(d.Cells[i+1:], d.Cells[i:])
	d.Cells[i] = c
}

// adoptOutputs copies outputs from an nbconvert result of the same
// notebook onto d's cells.
func (d *Document) adoptOutputs(executed []byte) error {
	var out Document
	if err := json.Unmarshal(executed, &out); err != nil {
		return fmt.Errorf("decode executed notebook: %w", err)
	}
	if len(out.Cells) != len(d.Cells) {
		return fmt.Errorf("executed notebook has %d cells, want %d", len(out.Cells), len(d.Cells))
	}
	for i := range d.Cells {
		d.Cells[i].Outputs = out.Cells[i].Outputs
		d.Cells[i].ExecutionCount = out.Cells[i].ExecutionCount
	}
	return nil
}

// Language is metadata.kernelspec.language, defaulting to python.
func (d *Document) Language() string {
	if ks, ok := d.Metadata["kernelspec"].(map[string]any); ok {
		if lang, ok := ks["language"].(string); ok && lang != "" {
			return lang
		}
	}
	return "python"
}

//go:embed notebook.schema.json
var schemaDoc []byte

const schemaURL = "schema://notebook.json"

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

// Parse validates the notebook's structure and decodes it.
func Parse(b []byte) (*Document, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotebook, err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile notebook schema: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotebook, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotebook, err)
	}
	return &doc, nil
}
