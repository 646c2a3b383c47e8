package notebook

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTimeout = 600 * time.Second
	DefaultKernel  = "python3"
)

// Engine runs every cell of doc in order and attaches the outputs to the
// cells in place.
type Engine interface {
	Execute(ctx context.Context, doc *Document) error
}

// ExecutionFailure is returned when the engine could not run the notebook:
// timeout, kernel start failure or a cell raising.
type ExecutionFailure struct {
	Err error
}

func (e *ExecutionFailure) Error() string { return e.Err.Error() }
func (e *ExecutionFailure) Unwrap() error { return e.Err }

// Trace is what an executed notebook produced.
type Trace struct {
	Outputs   []CellResult   `json:"outputs"`
	Variables map[string]any `json:"variables"`
	Plots     []any          `json:"plots"`
	Errors    []OutputRecord `json:"errors"`
}

// CellResult groups the outputs of one code cell. CellIndex counts every
// cell, including the injected parameter cell and cells with no output.
type CellResult struct {
	CellIndex int            `json:"cell_index"`
	Source    string         `json:"source"`
	Outputs   []OutputRecord `json:"outputs"`
}

type OutputKind string

const (
	OutputResult  OutputKind = "result"
	OutputDisplay OutputKind = "display"
	OutputStream  OutputKind = "stream"
	OutputError   OutputKind = "error"
)

// OutputRecord is one typed cell output. Which fields are set depends on
// Kind: Data for result and display, Name and Text for stream, Name,
// Value and Traceback for error.
type OutputRecord struct {
	Kind      OutputKind
	Data      map[string]any
	Name      string
	Text      string
	Value     string
	Traceback []string
}

func (o OutputRecord) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OutputStream:
		return json.Marshal(struct {
			Type OutputKind `json:"type"`
			Name string     `json:"name"`
			Text string     `json:"text"`
		}{o.Kind, o.Name, o.Text})
	case OutputError:
		tb := o.Traceback
		if tb == nil {
			tb = []string{}
		}
		return json.Marshal(struct {
			Type      OutputKind `json:"type"`
			Name      string     `json:"name"`
			Value     string     `json:"value"`
			Traceback []string   `json:"traceback"`
		}{o.Kind, o.Name, o.Value, tb})
	default:
		data := o.Data
		if data == nil {
			data = map[string]any{}
		}
		return json.Marshal(struct {
			Type OutputKind     `json:"type"`
			Data map[string]any `json:"data"`
		}{o.Kind, data})
	}
}

func (o *OutputRecord) UnmarshalJSON(b []byte) error {
	var w struct {
		Type      OutputKind     `json:"type"`
		Data      map[string]any `json:"data"`
		Name      string         `json:"name"`
		Text      string         `json:"text"`
		Value     string         `json:"value"`
		Traceback []string       `json:"traceback"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*o = OutputRecord{Kind: w.Type, Data: w.Data, Name: w.Name, Text: w.Text, Value: w.Value, Traceback: w.Traceback}
	return nil
}

// Runner injects parameters, executes a notebook through an Engine and
// collects its outputs.
type Runner struct {
	engine  Engine
	timeout time.Duration
	log     *zap.Logger
}

func NewRunner(engine Engine, timeout time.Duration, log *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{engine: engine, timeout: timeout, log: log}
}

// Execute runs doc with params injected as cell 0. doc is mutated. Engine
// errors come back as *ExecutionFailure.
func (r *Runner) Execute(ctx context.Context, doc *Document, params Params) (*Trace, error) {
	if len(params) > 0 {
		cell, err := ParameterCell(params)
		if err != nil {
			return nil, err
		}
		doc.InsertCell(0, cell)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.engine.Execute(ctx, doc); err != nil {
		r.log.Warn("notebook execution failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, &ExecutionFailure{Err: err}
	}
	trace := BuildTrace(doc)
	r.log.Info("notebook executed",
		zap.Int("cells", len(doc.Cells)),
		zap.Int("cells_with_output", len(trace.Outputs)),
		zap.Int("errors", len(trace.Errors)),
		zap.Duration("elapsed", time.Since(start)))
	return trace, nil
}

// BuildTrace walks an executed document. Unknown output types are skipped.
func BuildTrace(doc *Document) *Trace {
	t := &Trace{
		Outputs:   []CellResult{},
		Variables: map[string]any{},
		Plots:     []any{},
		Errors:    []OutputRecord{},
	}
	for i, c := range doc.Cells {
		if c.CellType != CellCode {
			continue
		}
		group := CellResult{CellIndex: i, Source: string(c.Source)}
		for _, o := range c.Outputs {
			var rec OutputRecord
			switch o.OutputType {
			case "execute_result":
				rec = OutputRecord{Kind: OutputResult, Data: o.Data}
			case "display_data":
				rec = OutputRecord{Kind: OutputDisplay, Data: o.Data}
			case "stream":
				rec = OutputRecord{Kind: OutputStream, Name: o.Name, Text: string(o.Text)}
			case "error":
				rec = OutputRecord{Kind: OutputError, Name: o.EName, Value: o.EValue, Traceback: o.Traceback}
				t.Errors = append(t.Errors, rec)
			default:
				continue
			}
			group.Outputs = append(group.Outputs, rec)
		}
		if len(group.Outputs) > 0 {
			t.Outputs = append(t.Outputs, group)
		}
	}
	return t
}

