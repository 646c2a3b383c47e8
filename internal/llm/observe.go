package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"genai-assessor/internal/metrics"
)

// ObservedProvider logs every call and records its latency.
type ObservedProvider struct {
	inner   Provider
	log     *zap.Logger
	metrics *metrics.Metrics
}

// WithObservability wraps p. Either of log and m may be nil.
func WithObservability(p Provider, log *zap.Logger, m *metrics.Metrics) Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &ObservedProvider{inner: p, log: log, metrics: m}
}

func (o *ObservedProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := o.inner.Generate(ctx, req)
	elapsed := time.Since(start)

	if o.metrics != nil {
		o.metrics.ObserveLLM(o.inner.ModelID(), elapsed, err)
	}
	fields := []zap.Field{
		zap.String("model", o.inner.ModelID()),
		zap.Int("prompt_bytes", len(req.Prompt)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		o.log.Warn("llm request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	o.log.Info("llm request",
		append(fields,
			zap.String("served_by", resp.Model),
			zap.Int("input_tokens", resp.Usage.InputTokens),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
			zap.String("stop_reason", resp.StopReason),
		)...)
	return resp, nil
}

func (o *ObservedProvider) ModelID() string { return o.inner.ModelID() }
