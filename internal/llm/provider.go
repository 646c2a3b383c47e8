// Package llm wraps the hosted language models behind one Provider
// interface.
package llm

import (
	"context"
)

// Provider generates free-form text for a prompt.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the resolved model identifier.
	ModelID() string
}

type Request struct {
	// System is an optional system instruction.
	System string
	// Prompt is the single user turn.
	Prompt string
	// MaxTokens caps the response length. Zero leaves the provider default,
	// except for Anthropic which requires a value.
	MaxTokens int
	// Temperature is sent only when positive.
	Temperature float64
}

type Response struct {
	Text  string
	Usage Usage
	// Model is the model that served the request as reported by the API.
	Model string
	// StopReason is normalized to "end" or "max_tokens".
	StopReason string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Complete is Generate for a bare prompt, returning only the text.
func Complete(ctx context.Context, p Provider, prompt string) (string, error) {
	resp, err := p.Generate(ctx, Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// resolveModel maps a friendly model name to a provider model ID. Unknown
// names are used as-is.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
