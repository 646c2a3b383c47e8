package notebook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Param is one injected assignment. Value is any JSON-encodable value.
type Param struct {
	Name  string
	Value any
}

// Params keeps injection order stable.
type Params []Param

// ParameterCell renders params as a tagged code cell of Python assignments.
func ParameterCell(params Params) (Cell, error) {
	var b strings.Builder
	b.WriteString("# Injected parameters\n")
	for _, p := range params {
		lit, err := PythonLiteral(p.Value)
		if err != nil {
			return Cell{}, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		fmt.Fprintf(&b, "%s = %s\n", p.Name, lit)
	}
	return Cell{
		CellType: CellCode,
		Metadata: map[string]any{"tags": []string{"parameters"}},
		Source:   Text(b.String()),
	}, nil
}

// PythonLiteral renders v as Python source. Strings are quoted the way
// Python's repr quotes them; json.RawMessage and other values go through
// their JSON form so object keys keep their order.
func PythonLiteral(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return pyString(x), nil
	case json.RawMessage:
		if !gjson.ValidBytes(x) {
			return "", fmt.Errorf("invalid JSON value")
		}
		return pyValue(gjson.ParseBytes(x)), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return pyValue(gjson.ParseBytes(b)), nil
}

func pyValue(r gjson.Result) string {
	switch {
	case r.Type == gjson.Null:
		return "None"
	case r.Type == gjson.True:
		return "True"
	case r.Type == gjson.False:
		return "False"
	case r.Type == gjson.Number:
		return r.Raw
	case r.Type == gjson.String:
		return pyString(r.String())
	case r.IsArray():
		var items []string
		r.ForEach(func(_, v gjson.Result) bool {
			items = append(items, pyValue(v))
			return true
		})
		return "[" + strings.Join(items, ", ") + "]"
	default:
		var items []string
		r.ForEach(func(k, v gjson.Result) bool {
			items = append(items, pyString(k.String())+": "+pyValue(v))
			return true
		})
		return "{" + strings.Join(items, ", ") + "}"
	}
}

// pyString follows Python's str repr: single quotes unless the text has a
// single quote and no double quote.
func pyString(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case !strconv.IsPrint(r) && r < 0x10000:
			if r < 0x100 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				fmt.Fprintf(&b, `\u%04x`, r)
			}
		case !strconv.IsPrint(r):
			fmt.Fprintf(&b, `\U%08x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
