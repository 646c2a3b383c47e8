// Package assess runs evaluations: prompt-based through a language model,
// notebook-based through the notebook runner, and the live interview.
package assess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"genai-assessor/internal/db"
	"genai-assessor/internal/evaluation"
	"genai-assessor/internal/interview"
	"genai-assessor/internal/llm"
	"genai-assessor/internal/metrics"
	"genai-assessor/internal/notebook"
	"genai-assessor/internal/queue"
	"genai-assessor/internal/rubric"
	"genai-assessor/internal/schemas"
	"genai-assessor/internal/workflow"
)

const (
	DefaultRubric         = "default"
	DefaultWorkflow       = "default"
	DefaultNotebookRubric = "genai_assessment"
)

var (
	// ErrAsyncUnavailable is returned by the queued operations when the
	// queue or the history is not configured.
	ErrAsyncUnavailable = errors.New("asynchronous execution is not configured")
	ErrHistoryDisabled  = errors.New("evaluation history is not configured")
)

// Archive stores execution traces out of band.
type Archive interface {
	PutJSON(ctx context.Context, id string, v any) (string, error)
	GetJSON(ctx context.Context, ref string, v any) error
}

// Service is safe for concurrent use once built. Archive, History, Queue
// and Metrics are optional.
type Service struct {
	Rubrics   *rubric.Store
	Workflows *workflow.Store
	Notebooks *notebook.Store
	Model     llm.Provider
	Runner    *notebook.Runner

	Archive Archive
	History *db.Repo
	Queue   queue.Enqueuer
	Metrics *metrics.Metrics

	// GeminiAPIKey is handed to notebooks as the gemini_api_key parameter.
	GeminiAPIKey string
	Log          *zap.Logger
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Evaluate loads the rubric and workflow, asks the model and parses its
// answer. Parsing never fails; model errors are returned.
func (s *Service) Evaluate(ctx context.Context, req schemas.EvaluateRequest) (*schemas.EvaluateResponse, error) {
	if req.RubricName == "" {
		req.RubricName = DefaultRubric
	}
	if req.WorkflowName == "" {
		req.WorkflowName = DefaultWorkflow
	}

	r, err := s.Rubrics.Load(req.RubricName)
	if err != nil {
		return nil, err
	}
	wf, err := s.Workflows.Load(req.WorkflowName)
	if err != nil {
		return nil, err
	}
	prompt, err := workflow.Compose(wf, map[string]string{
		"student_response":  req.StudentResponse,
		"problem_statement": req.ProblemStatement,
	}, r)
	if err != nil {
		return nil, err
	}

	ctx = detach(ctx)
	id := s.begin(ctx, db.KindEvaluate, db.StatusRunning, req.RubricName, req.WorkflowName, req)
	text, err := llm.Complete(ctx, s.Model, prompt)
	if err != nil {
		s.finish(ctx, id, nil, "", err)
		return nil, err
	}
	outcome := evaluation.ParseResponse(text, r)
	s.countOutcome("llm", outcome)
	s.finish(ctx, id, outcome.Raw(), "", nil)

	return &schemas.EvaluateResponse{
		RawResponse:  text,
		RubricName:   req.RubricName,
		WorkflowName: req.WorkflowName,
		Evaluation:   outcome,
	}, nil
}

// ExecuteNotebook runs a notebook workflow synchronously. Engine failures
// come back as *notebook.ExecutionFailure.
func (s *Service) ExecuteNotebook(ctx context.Context, req schemas.NotebookRequest) (*schemas.NotebookResponse, error) {
	if req.RubricName == "" {
		req.RubricName = DefaultNotebookRubric
	}
	doc, r, err := s.loadNotebook(req)
	if err != nil {
		return nil, err
	}
	ctx = detach(ctx)
	id := s.begin(ctx, db.KindNotebook, db.StatusRunning, req.RubricName, req.WorkflowName, req)
	resp, ref, err := s.runNotebook(ctx, id, doc, r, req)
	s.finishNotebook(ctx, id, resp, ref, err)
	return resp, err
}

// EnqueueNotebook records a queued notebook run and hands it to the
// worker. Unknown workflows and rubrics are rejected before queueing.
func (s *Service) EnqueueNotebook(ctx context.Context, req schemas.NotebookRequest) (string, error) {
	if s.Queue == nil || s.History == nil {
		return "", ErrAsyncUnavailable
	}
	if req.RubricName == "" {
		req.RubricName = DefaultNotebookRubric
	}
	if _, _, err := s.loadNotebook(req); err != nil {
		return "", err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	e := &db.Evaluation{
		ID:           uuid.NewString(),
		Kind:         db.KindNotebook,
		Status:       db.StatusQueued,
		RubricName:   req.RubricName,
		WorkflowName: req.WorkflowName,
		Request:      string(body),
	}
	if err := s.History.Create(ctx, e); err != nil {
		return "", err
	}
	if err := s.Queue.EnqueueNotebook(ctx, e.ID); err != nil {
		s.finish(detach(ctx), e.ID, nil, "", err)
		return "", err
	}
	s.log().Info("notebook run queued", zap.String("execution_id", e.ID), zap.String("workflow", req.WorkflowName))
	return e.ID, nil
}

// RunQueued executes a run created by EnqueueNotebook. A run that is no
// longer queued is left alone. The outcome, success or not, is written to
// the history; only history failures are returned.
func (s *Service) RunQueued(ctx context.Context, id string) error {
	if s.History == nil {
		return ErrHistoryDisabled
	}
	ctx = detach(ctx)
	e, err := s.History.Claim(ctx, id)
	if errors.Is(err, db.ErrNotClaimable) {
		s.log().Info("skipping notebook run that is not queued", zap.String("execution_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	var req schemas.NotebookRequest
	if err := json.Unmarshal([]byte(e.Request), &req); err != nil {
		return s.History.Finish(ctx, id, db.StatusError, nil, "", fmt.Sprintf("decode request: %v", err))
	}
	doc, r, err := s.loadNotebook(req)
	if err != nil {
		return s.History.Finish(ctx, id, db.StatusError, nil, "", err.Error())
	}
	resp, ref, err := s.runNotebook(ctx, id, doc, r, req)
	if err != nil {
		return s.History.Finish(ctx, id, db.StatusError, nil, ref, err.Error())
	}
	return s.History.Finish(ctx, id, db.StatusSuccess, resp.Evaluation.Raw(), ref, "")
}

// Execution returns a history record, with its archived trace when one
// was stored.
func (s *Service) Execution(ctx context.Context, id string) (*schemas.Execution, error) {
	if s.History == nil {
		return nil, ErrHistoryDisabled
	}
	e, err := s.History.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &schemas.Execution{
		ExecutionID:  e.ID,
		Kind:         e.Kind,
		Status:       e.Status,
		RubricName:   e.RubricName,
		WorkflowName: e.WorkflowName,
		Request:      json.RawMessage(e.Request),
		TraceRef:     e.TraceRef.String,
		Error:        e.Error.String,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.Result.Valid {
		out.Evaluation = json.RawMessage(e.Result.String)
	}
	if e.TraceRef.Valid && s.Archive != nil {
		var trace notebook.Trace
		if err := s.Archive.GetJSON(ctx, e.TraceRef.String, &trace); err != nil {
			s.log().Warn("fetch archived trace", zap.String("execution_id", id), zap.Error(err))
		} else {
			out.ExecutionDetails = &trace
		}
	}
	return out, nil
}

// Interview produces the interviewer's next turn. A missing stage means
// initial; any other unknown stage, the empty one included, gets the
// follow-up prompt and restarts at initial.
func (s *Service) Interview(ctx context.Context, req schemas.InterviewRequest) (*schemas.InterviewResponse, error) {
	stage := interview.StageInitial
	if req.Stage != nil {
		stage = interview.Stage(*req.Stage)
	}
	prompt, err := interview.Prompt(req.ProblemStatement, req.KeyConcepts, stage, req.StudentInput)
	if err != nil {
		return nil, err
	}
	text, err := llm.Complete(detach(ctx), s.Model, prompt)
	if err != nil {
		return nil, err
	}
	return &schemas.InterviewResponse{
		InterviewerResponse: text,
		Stage:               string(stage),
		NextStage:           string(interview.Next(stage)),
	}, nil
}

// detach keeps ctx's values but drops its cancellation, so a caller that
// goes away does not abort a model call or notebook run half way, nor
// leave its history record running. Notebook runs stay bounded by the
// runner timeout.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (s *Service) loadNotebook(req schemas.NotebookRequest) (*notebook.Document, *rubric.Rubric, error) {
	doc, err := s.Notebooks.Load(req.WorkflowName)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.Rubrics.Load(req.RubricName)
	if err != nil {
		return nil, nil, err
	}
	return doc, r, nil
}

// runNotebook executes doc and archives its trace. ref is the archive
// reference, empty when nothing was archived.
func (s *Service) runNotebook(ctx context.Context, id string, doc *notebook.Document, r *rubric.Rubric, req schemas.NotebookRequest) (resp *schemas.NotebookResponse, ref string, err error) {
	params := notebook.Params{
		{Name: "student_response", Value: req.StudentResponse},
		{Name: "problem_statement", Value: req.ProblemStatement},
		{Name: "rubric_data", Value: r.Document()},
		{Name: "gemini_api_key", Value: s.GeminiAPIKey},
	}

	start := time.Now()
	trace, err := s.Runner.Execute(ctx, doc, params)
	status := "success"
	if err != nil {
		status = "error"
	}
	if s.Metrics != nil {
		s.Metrics.ObserveNotebook(req.WorkflowName, status, time.Since(start))
	}
	if err != nil {
		return nil, "", err
	}

	outcome := notebook.Extract(trace)
	s.countOutcome("notebook", outcome)
	if s.Archive != nil && id != "" {
		if ref, err = s.Archive.PutJSON(ctx, id, trace); err != nil {
			s.log().Warn("archive notebook trace", zap.String("execution_id", id), zap.Error(err))
			ref = ""
		}
	}
	return &schemas.NotebookResponse{
		Status:           "success",
		Evaluation:       outcome,
		ExecutionDetails: trace,
		WorkflowName:     req.WorkflowName,
		RubricName:       req.RubricName,
	}, ref, nil
}

func (s *Service) countOutcome(source string, o evaluation.Outcome) {
	if s.Metrics == nil {
		return
	}
	shape := o.Kind.String()
	if o.Fallback {
		shape = "fallback"
	}
	s.Metrics.Evaluations.WithLabelValues(source, shape).Inc()
}

// begin records a synchronous run in the history. It returns "" when
// there is no history or the insert failed; the run goes ahead either way.
func (s *Service) begin(ctx context.Context, kind, status, rubricName, workflowName string, req any) string {
	if s.History == nil {
		return ""
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	e := &db.Evaluation{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       status,
		RubricName:   rubricName,
		WorkflowName: workflowName,
		Request:      string(body),
	}
	if err := s.History.Create(ctx, e); err != nil {
		s.log().Warn("record evaluation", zap.Error(err))
		return ""
	}
	return e.ID
}

func (s *Service) finish(ctx context.Context, id string, result json.RawMessage, ref string, runErr error) {
	if s.History == nil || id == "" {
		return
	}
	status, msg := db.StatusSuccess, ""
	if runErr != nil {
		status, msg = db.StatusError, runErr.Error()
	}
	if err := s.History.Finish(ctx, id, status, result, ref, msg); err != nil {
		s.log().Warn("record evaluation result", zap.String("execution_id", id), zap.Error(err))
	}
}

func (s *Service) finishNotebook(ctx context.Context, id string, resp *schemas.NotebookResponse, ref string, err error) {
	if resp == nil {
		s.finish(ctx, id, nil, ref, err)
		return
	}
	s.finish(ctx, id, resp.Evaluation.Raw(), ref, err)
}

func (s *Service) ListRubrics() ([]string, error) {
	names, err := s.Rubrics.List()
	if err != nil {
		return nil, err
	}
	out := names.ToSlice()
	sort.Strings(out)
	return out, nil
}

func (s *Service) Rubric(name string) (*rubric.Rubric, error) { return s.Rubrics.Load(name) }

func (s *Service) SaveRubric(name string, doc []byte) (*rubric.Rubric, error) {
	r, err := rubric.New(name, doc)
	if err != nil {
		return nil, err
	}
	if err := s.Rubrics.Save(name, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ListWorkflows() ([]string, error) {
	names, err := s.Workflows.List()
	if err != nil {
		return nil, err
	}
	out := names.ToSlice()
	sort.Strings(out)
	return out, nil
}

func (s *Service) Workflow(name string) (*workflow.Workflow, error) { return s.Workflows.Load(name) }

func (s *Service) ListNotebooks(ctx context.Context) ([]notebook.Info, error) {
	return s.Notebooks.Infos(ctx)
}
