// Package app assembles the assessor service from configuration. The API
// server and the worker share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"genai-assessor/internal/assess"
	"genai-assessor/internal/config"
	"genai-assessor/internal/db"
	"genai-assessor/internal/llm"
	"genai-assessor/internal/metrics"
	"genai-assessor/internal/migrations"
	"genai-assessor/internal/notebook"
	"genai-assessor/internal/queue"
	"genai-assessor/internal/rubric"
	"genai-assessor/internal/storage"
	"genai-assessor/internal/workflow"
)

type App struct {
	Service *assess.Service
	Metrics *metrics.Metrics

	closers []io.Closer
}

// Seed writes the bundled rubrics, workflows and notebooks into the
// configured directories, leaving existing files alone.
func Seed(cfg *config.Config, log *zap.Logger) error {
	if err := rubric.EnsureSeeded(cfg.Data.RubricsDir, log); err != nil {
		return err
	}
	if err := workflow.EnsureSeeded(cfg.Data.WorkflowsDir, log); err != nil {
		return err
	}
	return notebook.EnsureSeeded(cfg.Data.NotebooksDir, log)
}

// Build wires the service. History, archive and queue are set up only
// when configured.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := Seed(cfg, log); err != nil {
		return nil, fmt.Errorf("seed data: %w", err)
	}

	model, err := llm.NewProvider(ctx, cfg.LLMConfig(), log.Named("llm"), a.Metrics)
	if err != nil {
		return nil, err
	}
	engine, err := a.engine(cfg, log.Named("notebook"))
	if err != nil {
		return nil, err
	}

	svc := &assess.Service{
		Rubrics:      rubric.NewStore(cfg.Data.RubricsDir, log.Named("rubrics")),
		Workflows:    workflow.NewStore(cfg.Data.WorkflowsDir),
		Notebooks:    notebook.NewStore(cfg.Data.NotebooksDir),
		Model:        model,
		Runner:       notebook.NewRunner(engine, cfg.Notebook.Timeout, log.Named("notebook")),
		Metrics:      a.Metrics,
		GeminiAPIKey: cfg.LLM.GeminiAPIKey,
		Log:          log,
	}

	if cfg.History.Driver != "" {
		if err := migrations.Run(cfg.History.Driver, cfg.History.DSN); err != nil {
			return nil, fmt.Errorf("migrate history: %w", err)
		}
		conn, err := db.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn)
		svc.History = db.NewRepo(conn)
		log.Info("evaluation history enabled", zap.String("driver", cfg.History.Driver))
	}
	if cfg.ArchiveEnabled() {
		s3c, err := storage.New(ctx, cfg.S3Config(), log.Named("archive"))
		if err != nil {
			return nil, fmt.Errorf("trace archive: %w", err)
		}
		svc.Archive = s3c
		log.Info("trace archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}
	if cfg.Queue.RedisAddr != "" {
		q := queue.NewClient(cfg.Queue.RedisAddr)
		a.closers = append(a.closers, q)
		svc.Queue = q
		log.Info("async notebook runs enabled", zap.String("redis", cfg.Queue.RedisAddr))
	}

	a.Service = svc
	return a, nil
}

func (a *App) engine(cfg *config.Config, log *zap.Logger) (notebook.Engine, error) {
	if cfg.Notebook.Engine == "local" {
		return notebook.NewLocalEngine(cfg.Notebook.Jupyter, cfg.Notebook.Kernel, cfg.Notebook.Timeout, log), nil
	}
	e, err := notebook.NewDockerEngine(cfg.DockerConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("docker engine: %w", err)
	}
	a.closers = append(a.closers, e)
	return e, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
