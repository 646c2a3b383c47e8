// Package queue defines the background notebook task and its producer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeNotebookExecute = "notebook:execute"
	QueueNotebooks      = "notebooks"
)

// NotebookPayload points at a queued evaluation; the request itself lives
// in the evaluation history.
type NotebookPayload struct {
	ExecutionID string `json:"execution_id"`
}

func NewNotebookTask(executionID string) (*asynq.Task, error) {
	b, err := json.Marshal(NotebookPayload{ExecutionID: executionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotebookExecute, b), nil
}

func ParseNotebookPayload(t *asynq.Task) (NotebookPayload, error) {
	var p NotebookPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.ExecutionID == "" {
		return p, fmt.Errorf("%s payload has no execution_id", t.Type())
	}
	return p, nil
}

// Enqueuer hands notebook executions to the worker.
type Enqueuer interface {
	EnqueueNotebook(ctx context.Context, executionID string) error
}

type Client struct {
	asynq *asynq.Client
}

func NewClient(redisAddr string) *Client {
	return &Client{asynq: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// EnqueueNotebook enqueues without retries; a failed run stays failed.
func (c *Client) EnqueueNotebook(ctx context.Context, executionID string) error {
	task, err := NewNotebookTask(executionID)
	if err != nil {
		return err
	}
	if _, err := c.asynq.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Queue(QueueNotebooks)); err != nil {
		return fmt.Errorf("enqueue %s: %w", executionID, err)
	}
	return nil
}

func (c *Client) Close() error { return c.asynq.Close() }
