package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/workflow"
)

// QueueOptions locate the Redis-backed queue.
type QueueOptions struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	Concurrency   int
	MaxRetry      int
}

func (o QueueOptions) redis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.RedisAddr, Password: o.RedisPassword, DB: o.RedisDB}
}

func (o QueueOptions) queue() string {
	if o.Queue == "" {
		return "default"
	}
	return o.Queue
}

// NewMux routes finalize tasks to h.
func NewMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeFinalize, h.ProcessTask)
	return mux
}

// Run consumes finalize tasks until ctx is canceled.
func Run(ctx context.Context, opts QueueOptions, h *Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	srv := asynq.NewServer(opts.redis(), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{opts.queue(): 1},
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			logger.Error("finalize task failed", zap.String("task_type", t.Type()), zap.Error(err))
		}),
	})

	if err := srv.Start(NewMux(h)); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started", zap.String("queue", opts.queue()), zap.Int("concurrency", concurrency))

	<-ctx.Done()
	logger.Info("stopping worker")
	srv.Shutdown()
	return nil
}

// Enqueuer submits finalize tasks.
type Enqueuer struct {
	client *asynq.Client
	opts   QueueOptions
}

func NewEnqueuer(opts QueueOptions) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(opts.redis()), opts: opts}
}

// ErrAlreadyQueued is returned when a task for the same job is still pending.
var ErrAlreadyQueued = errors.New("finalize task already queued")

// Enqueue queues a finalize task for wc and returns its task id.
func (e *Enqueuer) Enqueue(ctx context.Context, wc workflow.Context, force bool) (string, error) {
	if err := wc.Validate(); err != nil {
		return "", err
	}
	task, err := NewFinalizeTask(wc, force)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.opts.queue()),
		asynq.MaxRetry(e.opts.MaxRetry),
		asynq.TaskID(TaskID(wc)),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", fmt.Errorf("%w: %s", ErrAlreadyQueued, TaskID(wc))
	}
	if err != nil {
		return "", fmt.Errorf("enqueue finalize task: %w", err)
	}
	return info.ID, nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
