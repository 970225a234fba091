package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/internal/runner"
	"github.com/3leaps/trackside/pkg/runjournal"
	"github.com/3leaps/trackside/pkg/workflow"
)

// Finalizer runs one finalization request.
type Finalizer interface {
	Finalize(ctx context.Context, req runner.Request) (*runner.Outcome, error)
}

// Handler processes finalize tasks.
type Handler struct {
	finalizer Finalizer
	logger    *zap.Logger
}

func NewHandler(f Finalizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{finalizer: f, logger: logger}
}

// ProcessTask handles a workflow:finalize task. Malformed and invalid
// payloads are not retried. A saga that ran is never retried either; its
// failure lives on the returned context and the run journal.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p FinalizePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal finalize payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(zap.String("job_name", p.Context.JobName), zap.String("job_kind", string(p.Context.JobKind)))

	out, err := h.finalizer.Finalize(ctx, runner.Request{Context: p.Context, Source: runjournal.SourceWorker, Force: p.Force})
	if errors.Is(err, runner.ErrAlreadyFinalized) {
		log.Info("skipping task for finalized job", zap.Error(err))
		return nil
	}
	var verr *workflow.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	if out.Context.Failed() {
		log.Warn("finalization completed with errors", zap.String("error", out.Context.ErrorDetails.Message))
	} else {
		log.Info("finalization completed")
	}
	return nil
}
