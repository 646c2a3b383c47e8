package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"genai-assessor/internal/queue"
)

// Runner executes a queued notebook run by its execution id.
type Runner interface {
	RunQueued(ctx context.Context, executionID string) error
}

type Server struct {
	Runner Runner
	Log    *zap.Logger
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeNotebookExecute, s.handleNotebook)
	return mux
}

func (s *Server) handleNotebook(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseNotebookPayload(t)
	if err != nil {
		s.Log.Error("dropping notebook task", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := s.Log.With(zap.String("execution_id", p.ExecutionID))
	log.Info("starting notebook run")

	// Run failures are stored on the history record; only errors writing
	// that record surface here.
	if err := s.Runner.RunQueued(ctx, p.ExecutionID); err != nil {
		log.Error("notebook run not recorded", zap.Error(err))
		return err
	}
	log.Info("notebook run finished")
	return nil
}

// Run serves notebook tasks until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, redisAddr string, concurrency int, r Runner, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue.QueueNotebooks: 1},
		Logger:      log.Named("asynq").Sugar(),
	})
	w := &Server{Runner: r, Log: log}
	if err := srv.Start(w.mux()); err != nil {
		return err
	}
	log.Info("worker started", zap.String("redis", redisAddr), zap.Int("concurrency", concurrency))
	<-ctx.Done()
	srv.Shutdown()
	log.Info("worker stopped")
	return nil
}
