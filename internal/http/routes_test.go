package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"genai-assessor/internal/assess"
	"genai-assessor/internal/llm"
	"genai-assessor/internal/metrics"
	"genai-assessor/internal/notebook"
	"genai-assessor/internal/rubric"
	"genai-assessor/internal/schemas"
	"genai-assessor/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingEngine struct{ err error }

func (e failingEngine) Execute(context.Context, *notebook.Document) error { return e.err }

type fixture struct {
	handler   http.Handler
	model     *llm.MockProvider
	metrics   *metrics.Metrics
	workflows string
}

func newFixture(t *testing.T, engine notebook.Engine) *fixture {
	t.Helper()
	root := t.TempDir()
	rubrics := filepath.Join(root, "rubrics")
	workflows := filepath.Join(root, "workflows")
	notebooks := filepath.Join(root, "notebooks")
	require.NoError(t, rubric.EnsureSeeded(rubrics, nil))
	require.NoError(t, workflow.EnsureSeeded(workflows, nil))
	require.NoError(t, notebook.EnsureSeeded(notebooks, nil))

	model := llm.NewMockProvider()
	mx := metrics.New()
	svc := &assess.Service{
		Rubrics:   rubric.NewStore(rubrics, nil),
		Workflows: workflow.NewStore(workflows),
		Notebooks: notebook.NewStore(notebooks),
		Model:     model,
		Runner:    notebook.NewRunner(engine, 0, nil),
		Metrics:   mx,
	}
	return &fixture{
		handler:   NewRouter(svc, nil, mx),
		model:     model,
		metrics:   mx,
		workflows: workflows,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, failingEngine{})
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRubricsAndWorkflows(t *testing.T) {
	f := newFixture(t, failingEngine{})

	rec := f.do(t, http.MethodGet, "/api/rubrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"genai_assessment", "webdev_assessment"}, decodeBody[[]string](t, rec))

	rec = f.do(t, http.MethodGet, "/api/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"live_interview", "quick_assessment", "reflection_analysis"}, decodeBody[[]string](t, rec))
}

func TestGetWorkflowAndRubric(t *testing.T) {
	f := newFixture(t, failingEngine{})

	rec := f.do(t, http.MethodGet, "/api/workflows/quick_assessment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	wf := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "Quick Concept Check", wf["name"])
	assert.Equal(t, "quick", wf["evaluation_type"])

	rec = f.do(t, http.MethodGet, "/api/rubrics/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "rubric 'nope' not found: rubric not found", decodeBody[schemas.Error](t, rec).Error)
}

func TestPutRubric(t *testing.T) {
	f := newFixture(t, failingEngine{})
	doc := `{"name": "Data Science", "key_concepts": ["Pandas"]}`

	rec := f.do(t, http.MethodPut, "/api/rubrics/data_science", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, doc, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/rubrics/data_science", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, doc, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/rubrics/bad", `["not", "an", "object"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, failingEngine{})
	f.model.AddResponse(llm.MockResponse{Text: `Here you go: {"overall_score": 9, "feedback": "Great", "concept_scores": {"RAG": 9}}`})

	rec := f.do(t, http.MethodPost, "/api/evaluate", `{
		"student_response": "retrieve then generate",
		"problem_statement": "Explain RAG",
		"rubric_name": "genai_assessment",
		"workflow_name": "quick_assessment"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]json.RawMessage](t, rec)
	assert.JSONEq(t, `{"overall_score": 9, "feedback": "Great", "concept_scores": {"RAG": 9}}`, string(body["evaluation"]))
	assert.JSONEq(t, `"quick_assessment"`, string(body["workflow_name"]))
	assert.Contains(t, string(body["raw_response"]), "Here you go")
}

func TestEvaluateErrors(t *testing.T) {
	f := newFixture(t, failingEngine{})

	rec := f.do(t, http.MethodPost, "/api/evaluate", `{"student_response": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/evaluate", `{"student_response": "x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody[schemas.Error](t, rec).Error, "'default'")

	custom := `{"name": "Needs more", "description": "", "prompt_template": "{student_response} {audience}"}`
	require.NoError(t, os.WriteFile(filepath.Join(f.workflows, "custom.json"), []byte(custom), 0o644))
	rec = f.do(t, http.MethodPost, "/api/evaluate", `{"rubric_name": "genai_assessment", "workflow_name": "custom"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing required parameter for workflow: 'audience'", decodeBody[schemas.Error](t, rec).Error)

	f.model.AddResponse(llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("503")}})
	rec = f.do(t, http.MethodPost, "/api/evaluate", `{"rubric_name": "genai_assessment", "workflow_name": "quick_assessment"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListNotebooks(t *testing.T) {
	f := newFixture(t, failingEngine{})

	rec := f.do(t, http.MethodGet, "/api/colab-workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	infos := decodeBody[[]notebook.Info](t, rec)
	require.Len(t, infos, 1)
	assert.Equal(t, "genai_assessment", infos[0].Name)
	assert.Equal(t, "python", infos[0].Language)
}

func TestExecuteNotebookFailure(t *testing.T) {
	f := newFixture(t, failingEngine{err: errors.New("kernel died")})

	rec := f.do(t, http.MethodPost, "/api/colab-workflows/execute", `{"workflow_name": "genai_assessment"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status": "error", "error": "kernel died"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/colab-workflows/execute", `{"workflow_name": "missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decodeBody[schemas.Error](t, rec).Status)
}

func TestExecuteAsyncUnavailable(t *testing.T) {
	f := newFixture(t, failingEngine{})

	rec := f.do(t, http.MethodPost, "/api/colab-workflows/execute-async", `{"workflow_name": "genai_assessment"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/executions/abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveInterview(t *testing.T) {
	f := newFixture(t, failingEngine{})
	f.model.AddResponse(llm.MockResponse{Text: "Why chunk documents?"})

	rec := f.do(t, http.MethodPost, "/api/live-interview", `{
		"problem_statement": "Build RAG",
		"key_concepts": ["Chunking"],
		"stage": "deep_dive",
		"student_input": "I split files"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"interviewer_response": "Why chunk documents?", "stage": "deep_dive", "next_stage": "clarification"}`, rec.Body.String())
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	f := newFixture(t, failingEngine{})
	f.do(t, http.MethodGet, "/api/rubrics/nope", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `assessor_http_requests_total{method="GET",route="/api/rubrics/{name}",status="404"} 1`)
}
