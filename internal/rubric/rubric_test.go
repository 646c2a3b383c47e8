package rubric

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRubric(t *testing.T, doc string) *Rubric {
	t.Helper()
	r, err := New("test", []byte(doc))
	require.NoError(t, err)
	return r
}

func TestTextMatchesGolden(t *testing.T) {
	for _, name := range []string{"genai_assessment", "webdev_assessment"} {
		t.Run(name, func(t *testing.T) {
			doc, err := defaults.ReadFile("defaults/" + name + ".json")
			require.NoError(t, err)
			want, err := os.ReadFile(filepath.Join("testdata", name+".txt"))
			require.NoError(t, err)

			r, err := New(name, doc)
			require.NoError(t, err)
			assert.Equal(t, string(want), r.Text())
		})
	}
}

func TestTextConceptsAndWeightsInOrder(t *testing.T) {
	r := mustRubric(t, `{
		"name": "t",
		"key_concepts": ["a", "b"],
		"overall_scoring": {"scale": "1-5", "weights": {"a": 0.4, "b": 0.6, "c": 1}}
	}`)

	want := "Rubric: t\n\n" +
		"Key Concepts to Evaluate:\n- a\n- b\n\n" +
		"\nOverall Scoring Scale: 1-5\n" +
		"Concept Weights:\n  a: 40.0%\n  b: 60.0%\n  c: 100%\n"
	got := r.Text()
	assert.Equal(t, want, got)

	ia, ib := strings.Index(got, "- a"), strings.Index(got, "- b")
	assert.True(t, ia >= 0 && ib > ia)
	wa, wb := strings.Index(got, "a: 40.0%"), strings.Index(got, "b: 60.0%")
	assert.True(t, wa >= 0 && wb > wa)
}

func TestTextKeepsStoredOrderNotSortedOrder(t *testing.T) {
	r := mustRubric(t, `{
		"name": "order",
		"scoring_criteria": {"Zeta": {"good": "z"}, "Alpha": {"good": "a"}},
		"overall_scoring": {"weights": {"Zeta": 0.5, "Alpha": 0.5}}
	}`)

	got := r.Text()
	assert.Less(t, strings.Index(got, "\nZeta:\n"), strings.Index(got, "\nAlpha:\n"))
	assert.Less(t, strings.Index(got, "  Zeta: 50.0%"), strings.Index(got, "  Alpha: 50.0%"))
	assert.Contains(t, got, "Overall Scoring Scale: 1-10\n")
}

func TestTextDefaultsWhenSectionsMissing(t *testing.T) {
	r := mustRubric(t, `{}`)
	assert.Equal(t, "Rubric: Assessment Rubric\n\n", r.Text())
}

func TestTitleWords(t *testing.T) {
	tests := map[string]string{
		"excellent":         "Excellent",
		"needs_improvement": "Needs_Improvement",
		"very good":         "Very Good",
		"keepCASE":          "KeepCASE",
		"2nd tier":          "2Nd Tier",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, titleWords(in), in)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		40:                 "40.0",
		7.000000000000001:  "7.000000000000001",
		12.5:               "12.5",
		0:                  "0.0",
		0.00001:            "1e-05",
		1e16:               "1e+16",
		-25:                "-25.0",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatFloat(in))
	}
}

func TestNewRejectsNonObjects(t *testing.T) {
	for _, doc := range []string{`[]`, `"x"`, `{`, ``} {
		_, err := New("bad", []byte(doc))
		assert.ErrorIs(t, err, ErrInvalidRubric, doc)
	}
}

func TestKeyConcepts(t *testing.T) {
	r := mustRubric(t, `{"key_concepts": ["x", "y", "z"]}`)
	assert.Equal(t, []string{"x", "y", "z"}, r.KeyConcepts())
	assert.Nil(t, mustRubric(t, `{}`).KeyConcepts())
}
