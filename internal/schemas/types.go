// Package schemas holds the JSON request and response bodies of the API.
package schemas

import (
	"encoding/json"
	"time"

	"genai-assessor/internal/evaluation"
	"genai-assessor/internal/notebook"
)

type EvaluateRequest struct {
	StudentResponse  string `json:"student_response"`
	ProblemStatement string `json:"problem_statement"`
	RubricName       string `json:"rubric_name,omitempty"`
	WorkflowName     string `json:"workflow_name,omitempty"`
}

type EvaluateResponse struct {
	RawResponse  string             `json:"raw_response"`
	RubricName   string             `json:"rubric_name"`
	WorkflowName string             `json:"workflow_name"`
	Evaluation   evaluation.Outcome `json:"evaluation"`
}

type NotebookRequest struct {
	WorkflowName     string `json:"workflow_name"`
	StudentResponse  string `json:"student_response"`
	ProblemStatement string `json:"problem_statement"`
	RubricName       string `json:"rubric_name,omitempty"`
}

type NotebookResponse struct {
	Status           string             `json:"status"`
	Evaluation       evaluation.Outcome `json:"evaluation"`
	ExecutionDetails *notebook.Trace    `json:"execution_details"`
	WorkflowName     string             `json:"workflow_name"`
	RubricName       string             `json:"rubric_name"`
}

type QueuedResponse struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id"`
}

// Execution is a history record as served to clients.
type Execution struct {
	ExecutionID      string          `json:"execution_id"`
	Kind             string          `json:"kind"`
	Status           string          `json:"status"`
	RubricName       string          `json:"rubric_name"`
	WorkflowName     string          `json:"workflow_name"`
	Request          json.RawMessage `json:"request"`
	Evaluation       json.RawMessage `json:"evaluation,omitempty"`
	ExecutionDetails *notebook.Trace `json:"execution_details,omitempty"`
	TraceRef         string          `json:"trace_ref,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type InterviewRequest struct {
	ProblemStatement string   `json:"problem_statement"`
	KeyConcepts      []string `json:"key_concepts"`
	Stage            *string  `json:"stage,omitempty"`
	StudentInput     string   `json:"student_input"`
}

type InterviewResponse struct {
	InterviewerResponse string `json:"interviewer_response"`
	Stage               string `json:"stage"`
	NextStage           string `json:"next_stage"`
}

type Error struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
}
