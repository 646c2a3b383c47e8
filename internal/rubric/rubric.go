// Package rubric loads, saves and renders named scoring rubrics.
//
// A rubric is kept as the JSON document it was read from. Readers walk the
// document with gjson so concepts, levels and weights come out in the order
// they were written, which the rendered rubric text depends on.
package rubric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

var ErrInvalidRubric = errors.New("invalid rubric document")

// Rubric is a named scoring specification.
type Rubric struct {
	// Key is the store name (the filename stem).
	Key string
	doc json.RawMessage
}

// New wraps a rubric document. The document must be a JSON object; its
// fields are otherwise not validated.
func New(key string, doc []byte) (*Rubric, error) {
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, fmt.Errorf("%w: %q is not a JSON object", ErrInvalidRubric, key)
	}
	return &Rubric{Key: key, doc: append(json.RawMessage(nil), doc...)}, nil
}

// Document returns the rubric exactly as stored.
func (r *Rubric) Document() json.RawMessage { return r.doc }

func (r *Rubric) MarshalJSON() ([]byte, error) { return r.doc, nil }

func (r *Rubric) root() gjson.Result { return gjson.ParseBytes(r.doc) }

// DisplayName is the rubric's "name" field, or "Assessment Rubric" when absent.
func (r *Rubric) DisplayName() string {
	if n := r.root().Get("name"); n.Exists() {
		return n.String()
	}
	return "Assessment Rubric"
}

// KeyConcepts returns the concept names in stored order.
func (r *Rubric) KeyConcepts() []string {
	var out []string
	for _, c := range r.root().Get("key_concepts").Array() {
		out = append(out, c.String())
	}
	return out
}

// Text renders the rubric for inclusion in a prompt.
func (r *Rubric) Text() string {
	root := r.root()
	var b strings.Builder

	fmt.Fprintf(&b, "Rubric: %s\n\n", r.DisplayName())

	if concepts := root.Get("key_concepts"); concepts.Exists() {
		b.WriteString("Key Concepts to Evaluate:\n")
		concepts.ForEach(func(_, c gjson.Result) bool {
			fmt.Fprintf(&b, "- %s\n", c.String())
			return true
		})
		b.WriteString("\n")
	}

	if criteria := root.Get("scoring_criteria"); criteria.Exists() {
		b.WriteString("Scoring Criteria:\n")
		criteria.ForEach(func(concept, levels gjson.Result) bool {
			fmt.Fprintf(&b, "\n%s:\n", concept.String())
			levels.ForEach(func(level, desc gjson.Result) bool {
				fmt.Fprintf(&b, "  %s: %s\n", titleWords(level.String()), desc.String())
				return true
			})
			return true
		})
	}

	if scoring := root.Get("overall_scoring"); scoring.Exists() {
		scale := "1-10"
		if s := scoring.Get("scale"); s.Exists() {
			scale = s.String()
		}
		fmt.Fprintf(&b, "\nOverall Scoring Scale: %s\n", scale)

		if weights := scoring.Get("weights"); weights.Exists() {
			b.WriteString("Concept Weights:\n")
			weights.ForEach(func(concept, w gjson.Result) bool {
				fmt.Fprintf(&b, "  %s: %s%%\n", concept.String(), percent(w))
				return true
			})
		}
	}

	return b.String()
}

// titleWords upper-cases the first letter of every word. A word starts
// after any non-letter, so "needs_improvement" becomes "Needs_Improvement".
func titleWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inWord := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !inWord {
				r = unicode.ToTitle(r)
			}
			inWord = true
		} else {
			inWord = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// percent renders weight*100. Integer weights stay integers; fractional
// weights keep a decimal point (0.4 -> "40.0").
func percent(w gjson.Result) string {
	if w.Type != gjson.Number {
		return w.String()
	}
	if !strings.ContainsAny(w.Raw, ".eE") {
		if n, err := strconv.ParseInt(w.Raw, 10, 64); err == nil && n < math.MaxInt64/100 && n > math.MinInt64/100 {
			return strconv.FormatInt(n*100, 10)
		}
	}
	return formatFloat(w.Float() * 100)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
