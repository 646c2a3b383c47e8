package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type evaluateResp struct {
	RawResponse  string         `json:"raw_response"`
	RubricName   string         `json:"rubric_name"`
	WorkflowName string         `json:"workflow_name"`
	Evaluation   map[string]any `json:"evaluation"`
}

type notebookResp struct {
	Status     string         `json:"status"`
	Evaluation map[string]any `json:"evaluation"`
}

type queuedResp struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id"`
}

type executionResp struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	Evaluation  map[string]any `json:"evaluation,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type interviewResp struct {
	InterviewerResponse string `json:"interviewer_response"`
	Stage               string `json:"stage"`
	NextStage           string `json:"next_stage"`
}

const (
	problem = "Design a retrieval-augmented chatbot that answers questions about a company handbook."
	answer  = "I would chunk the handbook, embed the chunks, retrieve the top matches for each question " +
		"and pass them to the model with a prompt that asks it to cite its sources."
)

func main() {
	baseFlag := flag.String("base", envOr("API_BASE_URL", "http://localhost:5000"), "API base URL")
	notebookFlag := flag.Bool("notebook", false, "Also run the genai_assessment notebook synchronously")
	asyncFlag := flag.Bool("async", false, "Also queue a notebook run and poll for its result")
	waitFlag := flag.Duration("wait", 3*time.Minute, "How long to poll for a queued run")
	flag.Parse()

	httpc := &http.Client{Timeout: 11 * time.Minute}
	base := *baseFlag

	// 1) Health and listings
	var health map[string]string
	if err := getJSON(httpc, base+"/healthz", &health); err != nil {
		fatalf("healthz: %v", err)
	}
	fmt.Printf("✅ Healthy: %s\n", health["status"])

	var rubrics, workflows []string
	if err := getJSON(httpc, base+"/api/rubrics", &rubrics); err != nil {
		fatalf("list rubrics: %v", err)
	}
	if err := getJSON(httpc, base+"/api/workflows", &workflows); err != nil {
		fatalf("list workflows: %v", err)
	}
	var notebooks []map[string]any
	if err := getJSON(httpc, base+"/api/colab-workflows", &notebooks); err != nil {
		fatalf("list notebooks: %v", err)
	}
	fmt.Printf("✅ Rubrics=%v workflows=%v notebooks=%d\n", rubrics, workflows, len(notebooks))

	// 2) Prompt-based evaluation
	var ev evaluateResp
	err := postJSON(httpc, base+"/api/evaluate", map[string]any{
		"student_response":  answer,
		"problem_statement": problem,
		"rubric_name":       "genai_assessment",
		"workflow_name":     "quick_assessment",
	}, http.StatusOK, &ev)
	if err != nil {
		fatalf("evaluate: %v", err)
	}
	fmt.Printf("✅ Evaluated with %s/%s: %s\n", ev.RubricName, ev.WorkflowName, compactJSON(ev.Evaluation))

	// 3) Live interview, two turns
	stage := "initial"
	for range 2 {
		var iv interviewResp
		err := postJSON(httpc, base+"/api/live-interview", map[string]any{
			"problem_statement": problem,
			"key_concepts":      []string{"Retrieval", "Prompt Engineering"},
			"stage":             stage,
			"student_input":     answer,
		}, http.StatusOK, &iv)
		if err != nil {
			fatalf("live interview: %v", err)
		}
		fmt.Printf("✅ Interview %s -> %s: %s\n", iv.Stage, iv.NextStage, iv.InterviewerResponse)
		stage = iv.NextStage
	}

	notebookReq := map[string]any{
		"workflow_name":     "genai_assessment",
		"student_response":  answer,
		"problem_statement": problem,
	}

	// 4) Synchronous notebook run
	if *notebookFlag {
		var nb notebookResp
		if err := postJSON(httpc, base+"/api/colab-workflows/execute", notebookReq, http.StatusOK, &nb); err != nil {
			fatalf("execute notebook: %v", err)
		}
		fmt.Printf("✅ Notebook %s: %s\n", nb.Status, compactJSON(nb.Evaluation))
	}

	// 5) Queued notebook run
	if *asyncFlag {
		var q queuedResp
		if err := postJSON(httpc, base+"/api/colab-workflows/execute-async", notebookReq, http.StatusAccepted, &q); err != nil {
			fatalf("queue notebook: %v", err)
		}
		fmt.Printf("✅ Queued notebook run %s\n", q.ExecutionID)

		deadline := time.Now().Add(*waitFlag)
		for {
			var ex executionResp
			if err := getJSON(httpc, base+"/api/executions/"+q.ExecutionID, &ex); err != nil {
				fatalf("get execution: %v", err)
			}
			if ex.Status == "success" {
				fmt.Printf("✅ Queued run finished: %s\n", compactJSON(ex.Evaluation))
				break
			}
			if ex.Status == "error" {
				fatalf("queued run failed: %s", ex.Error)
			}
			if time.Now().After(deadline) {
				fmt.Printf("ℹ️  Run still %s after %s\n", ex.Status, *waitFlag)
				break
			}
			time.Sleep(5 * time.Second)
		}
	}

	fmt.Println("🎉 Smoke run OK")
}

// --- helpers ---

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func postJSON(c *http.Client, url string, body any, want int, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(c, req, want, out)
}

func getJSON(c *http.Client, url string, out any) error {
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	return do(c, req, http.StatusOK, out)
}

func do(c *http.Client, req *http.Request, want int, out any) error {
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s %s -> %d: %s", req.Method, req.URL, res.StatusCode, string(b))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func compactJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatalf(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}
