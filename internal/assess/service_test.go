package assess

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genai-assessor/internal/db"
	"genai-assessor/internal/evaluation"
	"genai-assessor/internal/interview"
	"genai-assessor/internal/llm"
	"genai-assessor/internal/metrics"
	"genai-assessor/internal/migrations"
	"genai-assessor/internal/notebook"
	"genai-assessor/internal/rubric"
	"genai-assessor/internal/schemas"
	"genai-assessor/internal/workflow"
)

const finalResult = `{"overall_score": 8, "feedback": "Solid", "concept_scores": {"Prompt Engineering": 8}}`

// printingEngine makes the last code cell print the final results.
type printingEngine struct {
	text string
	err  error
	seen *notebook.Document
}

func (e *printingEngine) Execute(_ context.Context, doc *notebook.Document) error {
	e.seen = doc
	if e.err != nil {
		return e.err
	}
	for i := len(doc.Cells) - 1; i >= 0; i-- {
		if doc.Cells[i].CellType == notebook.CellCode {
			doc.Cells[i].Outputs = []notebook.Output{{
				OutputType: "stream",
				Name:       "stdout",
				Text:       notebook.Text(e.text),
			}}
			break
		}
	}
	return nil
}

// cancellingEngine cancels the caller's context the way a dropped HTTP
// connection would, then runs like printingEngine if its own context
// survived.
type cancellingEngine struct {
	printingEngine
	cancel context.CancelFunc
}

func (e *cancellingEngine) Execute(ctx context.Context, doc *notebook.Document) error {
	e.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.printingEngine.Execute(ctx, doc)
}

// ctxProvider fails like a real client when its context is done.
type ctxProvider struct {
	*llm.MockProvider
}

func (p ctxProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.MockProvider.Generate(ctx, req)
}

type memArchive struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (a *memArchive) PutJSON(_ context.Context, id string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objs == nil {
		a.objs = map[string][]byte{}
	}
	ref := "mem://" + id
	a.objs[ref] = b
	return ref, nil
}

func (a *memArchive) GetJSON(_ context.Context, ref string, v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objs[ref]
	if !ok {
		return errors.New("no such object")
	}
	return json.Unmarshal(b, v)
}

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) EnqueueNotebook(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func newService(t *testing.T, model llm.Provider, engine notebook.Engine) *Service {
	t.Helper()
	rubrics := filepath.Join(t.TempDir(), "rubrics")
	workflows := filepath.Join(t.TempDir(), "workflows")
	notebooks := filepath.Join(t.TempDir(), "notebooks")
	require.NoError(t, rubric.EnsureSeeded(rubrics, nil))
	require.NoError(t, workflow.EnsureSeeded(workflows, nil))
	require.NoError(t, notebook.EnsureSeeded(notebooks, nil))

	return &Service{
		Rubrics:      rubric.NewStore(rubrics, nil),
		Workflows:    workflow.NewStore(workflows),
		Notebooks:    notebook.NewStore(notebooks),
		Model:        model,
		Runner:       notebook.NewRunner(engine, 0, nil),
		GeminiAPIKey: "test-key",
	}
}

func withHistory(t *testing.T, s *Service) *db.Repo {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, migrations.Run("sqlite", dsn))
	conn, err := db.Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	s.History = db.NewRepo(conn)
	return s.History
}

func TestEvaluateRecognizedResult(t *testing.T) {
	model := llm.NewMockProvider(llm.MockResponse{Text: "```json\n" + finalResult + "\n```"})
	s := newService(t, model, &printingEngine{})
	s.Metrics = metrics.New()

	resp, err := s.Evaluate(context.Background(), schemas.EvaluateRequest{
		StudentResponse:  "Use few-shot examples.",
		ProblemStatement: "Design a prompt.",
		RubricName:       "genai_assessment",
		WorkflowName:     "quick_assessment",
	})
	require.NoError(t, err)

	assert.Equal(t, "genai_assessment", resp.RubricName)
	assert.Equal(t, "quick_assessment", resp.WorkflowName)
	require.Equal(t, evaluation.KindRecognized, resp.Evaluation.Kind)
	assert.Equal(t, "Solid", resp.Evaluation.Result.Feedback)
	assert.Contains(t, resp.RawResponse, finalResult)

	prompt := model.LastPrompt()
	assert.Contains(t, prompt, "**Problem:** Design a prompt.")
	assert.Contains(t, prompt, "**Student Response:** Use few-shot examples.")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.Evaluations.WithLabelValues("llm", "recognized")))
}

func TestEvaluateDefaultsToMissingDefaultRubric(t *testing.T) {
	model := llm.NewMockProvider()
	s := newService(t, model, &printingEngine{})

	_, err := s.Evaluate(context.Background(), schemas.EvaluateRequest{StudentResponse: "x"})
	require.ErrorIs(t, err, rubric.ErrNotFound)
	assert.Contains(t, err.Error(), "'default'")
	assert.Zero(t, model.CallCount())
}

func TestEvaluateUnparseableResponseFallsBack(t *testing.T) {
	model := llm.NewMockProvider(llm.MockResponse{Text: "Overall Score: 7/10. Nice work."})
	s := newService(t, model, &printingEngine{})

	resp, err := s.Evaluate(context.Background(), schemas.EvaluateRequest{
		RubricName:   "webdev_assessment",
		WorkflowName: "quick_assessment",
	})
	require.NoError(t, err)
	assert.True(t, resp.Evaluation.Fallback)
}

func TestEvaluateModelErrorIsRecorded(t *testing.T) {
	model := llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrRateLimit{}})
	s := newService(t, model, &printingEngine{})
	repo := withHistory(t, s)

	_, err := s.Evaluate(context.Background(), schemas.EvaluateRequest{
		RubricName:   "genai_assessment",
		WorkflowName: "quick_assessment",
	})
	var rl *llm.ErrRateLimit
	require.ErrorAs(t, err, &rl)

	recent, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, db.KindEvaluate, recent[0].Kind)
	assert.Equal(t, db.StatusError, recent[0].Status)
	assert.True(t, recent[0].Error.Valid)
}

func TestExecuteNotebookInjectsParameters(t *testing.T) {
	engine := &printingEngine{text: "Final Evaluation Results\n" + finalResult + "\n"}
	s := newService(t, llm.NewMockProvider(), engine)

	resp, err := s.ExecuteNotebook(context.Background(), schemas.NotebookRequest{
		WorkflowName:     "genai_assessment",
		StudentResponse:  "it's mine",
		ProblemStatement: "Explain RAG",
	})
	require.NoError(t, err)

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, DefaultNotebookRubric, resp.RubricName)
	require.Equal(t, evaluation.KindRecognized, resp.Evaluation.Kind)
	assert.JSONEq(t, finalResult, string(resp.Evaluation.Raw()))
	require.NotNil(t, resp.ExecutionDetails)
	assert.Empty(t, resp.ExecutionDetails.Errors)

	injected := engine.seen.Cells[0]
	assert.Equal(t, notebook.CellCode, injected.CellType)
	src := string(injected.Source)
	assert.Contains(t, src, `student_response = "it's mine"`)
	assert.Contains(t, src, "problem_statement = 'Explain RAG'")
	assert.Contains(t, src, "rubric_data = {")
	assert.Contains(t, src, "gemini_api_key = 'test-key'")
}

func TestExecuteNotebookEngineFailure(t *testing.T) {
	s := newService(t, llm.NewMockProvider(), &printingEngine{err: errors.New("kernel died")})
	s.Metrics = metrics.New()

	_, err := s.ExecuteNotebook(context.Background(), schemas.NotebookRequest{WorkflowName: "genai_assessment"})
	var failure *notebook.ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.EqualError(t, err, "kernel died")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.NotebookRuns.WithLabelValues("genai_assessment", "error")))
}

func TestExecuteNotebookUnknownWorkflow(t *testing.T) {
	s := newService(t, llm.NewMockProvider(), &printingEngine{})

	_, err := s.ExecuteNotebook(context.Background(), schemas.NotebookRequest{WorkflowName: "nope"})
	assert.ErrorIs(t, err, notebook.ErrNotFound)
}

func TestEnqueueRequiresQueueAndHistory(t *testing.T) {
	s := newService(t, llm.NewMockProvider(), &printingEngine{})
	s.Queue = &recordingQueue{}

	_, err := s.EnqueueNotebook(context.Background(), schemas.NotebookRequest{WorkflowName: "genai_assessment"})
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
}

func TestQueuedNotebookRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine := &printingEngine{text: "Final Evaluation Results\n" + finalResult}
	s := newService(t, llm.NewMockProvider(), engine)
	withHistory(t, s)
	q := &recordingQueue{}
	s.Queue = q
	s.Archive = &memArchive{}

	id, err := s.EnqueueNotebook(ctx, schemas.NotebookRequest{
		WorkflowName:    "genai_assessment",
		StudentResponse: "queued answer",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, q.ids)

	pending, err := s.Execution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, pending.Status)
	assert.Nil(t, pending.Evaluation)

	require.NoError(t, s.RunQueued(ctx, id))
	// A second delivery finds the run already claimed.
	require.NoError(t, s.RunQueued(ctx, id))

	done, err := s.Execution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSuccess, done.Status)
	assert.Equal(t, "mem://"+id, done.TraceRef)
	assert.JSONEq(t, finalResult, string(done.Evaluation))
	require.NotNil(t, done.ExecutionDetails)
	require.NotEmpty(t, done.ExecutionDetails.Outputs)

	var req schemas.NotebookRequest
	require.NoError(t, json.Unmarshal(done.Request, &req))
	assert.Equal(t, "queued answer", req.StudentResponse)
	assert.Equal(t, DefaultNotebookRubric, req.RubricName)
}

func TestEnqueueFailureMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	s := newService(t, llm.NewMockProvider(), &printingEngine{})
	repo := withHistory(t, s)
	s.Queue = &recordingQueue{err: errors.New("redis down")}

	_, err := s.EnqueueNotebook(ctx, schemas.NotebookRequest{WorkflowName: "genai_assessment"})
	require.EqualError(t, err, "redis down")

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, db.StatusError, recent[0].Status)
	assert.Equal(t, "redis down", recent[0].Error.String)
}

func TestEnqueueRejectsUnknownRubric(t *testing.T) {
	s := newService(t, llm.NewMockProvider(), &printingEngine{})
	withHistory(t, s)
	q := &recordingQueue{}
	s.Queue = q

	_, err := s.EnqueueNotebook(context.Background(), schemas.NotebookRequest{
		WorkflowName: "genai_assessment",
		RubricName:   "missing",
	})
	assert.ErrorIs(t, err, rubric.ErrNotFound)
	assert.Empty(t, q.ids)
}

func TestInterviewAdvancesStage(t *testing.T) {
	model := llm.NewMockProvider(llm.MockResponse{Text: "Tell me about retrieval."})
	s := newService(t, model, &printingEngine{})

	resp, err := s.Interview(context.Background(), schemas.InterviewRequest{
		ProblemStatement: "Build a RAG system.",
		KeyConcepts:      []string{"Retrieval", "Grounding"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tell me about retrieval.", resp.InterviewerResponse)
	assert.Equal(t, "initial", resp.Stage)
	assert.Equal(t, "deep_dive", resp.NextStage)
	assert.Contains(t, model.LastPrompt(), "Key concepts to assess: Retrieval, Grounding")
}

func TestInterviewExplicitEmptyStage(t *testing.T) {
	model := llm.NewMockProvider(llm.MockResponse{Text: "Go on."})
	s := newService(t, model, &printingEngine{})

	empty := ""
	resp, err := s.Interview(context.Background(), schemas.InterviewRequest{
		ProblemStatement: "Build a RAG system.",
		Stage:            &empty,
	})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Stage)
	assert.Equal(t, "initial", resp.NextStage)

	initial, err := interview.Prompt("Build a RAG system.", nil, interview.StageInitial, "")
	require.NoError(t, err)
	assert.NotEqual(t, initial, model.LastPrompt())
}

func TestListingsAreSorted(t *testing.T) {
	s := newService(t, llm.NewMockProvider(), &printingEngine{})

	rubrics, err := s.ListRubrics()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"genai_assessment", "webdev_assessment"}, rubrics); diff != "" {
		t.Errorf("rubrics mismatch (-want +got):\n%s", diff)
	}

	workflows, err := s.ListWorkflows()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"live_interview", "quick_assessment", "reflection_analysis"}, workflows); diff != "" {
		t.Errorf("workflows mismatch (-want +got):\n%s", diff)
	}

	infos, err := s.ListNotebooks(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "genai_assessment", infos[0].Name)
}

func TestSaveRubric(t *testing.T) {
	s := newService(t, llm.NewMockProvider(), &printingEngine{})

	_, err := s.SaveRubric("custom", []byte(`{"name": "Custom", "key_concepts": ["A"]}`))
	require.NoError(t, err)

	r, err := s.Rubric("custom")
	require.NoError(t, err)
	assert.Equal(t, "Custom", r.DisplayName())

	_, err = s.SaveRubric("broken", []byte(`[1, 2`))
	assert.ErrorIs(t, err, rubric.ErrInvalidRubric)
}

func TestExecuteNotebookOutlivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := &cancellingEngine{
		printingEngine: printingEngine{text: "Final Evaluation Results\n" + finalResult},
		cancel:         cancel,
	}
	s := newService(t, llm.NewMockProvider(), engine)
	repo := withHistory(t, s)

	resp, err := s.ExecuteNotebook(ctx, schemas.NotebookRequest{WorkflowName: "genai_assessment"})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)

	recent, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, db.StatusSuccess, recent[0].Status)
}

func TestRunQueuedOutlivesWorkerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := &cancellingEngine{
		printingEngine: printingEngine{text: "Final Evaluation Results\n" + finalResult},
		cancel:         cancel,
	}
	s := newService(t, llm.NewMockProvider(), engine)
	withHistory(t, s)
	s.Queue = &recordingQueue{}

	id, err := s.EnqueueNotebook(ctx, schemas.NotebookRequest{WorkflowName: "genai_assessment"})
	require.NoError(t, err)
	require.NoError(t, s.RunQueued(ctx, id))

	done, err := s.Execution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSuccess, done.Status)
	assert.JSONEq(t, finalResult, string(done.Evaluation))
}

func TestEvaluateIgnoresCancelledCaller(t *testing.T) {
	model := ctxProvider{llm.NewMockProvider(llm.MockResponse{Text: "```json\n" + finalResult + "\n```"})}
	s := newService(t, model, &printingEngine{})
	repo := withHistory(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := s.Evaluate(ctx, schemas.EvaluateRequest{
		RubricName:   "genai_assessment",
		WorkflowName: "quick_assessment",
	})
	require.NoError(t, err)
	assert.Equal(t, evaluation.KindRecognized, resp.Evaluation.Kind)

	recent, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, db.StatusSuccess, recent[0].Status)
}
