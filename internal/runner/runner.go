// Package runner runs the finalizer on behalf of a transport (CLI, HTTP,
// queue worker) and records each run in the run journal.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/finalizer"
	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/runjournal"
	"github.com/3leaps/trackside/pkg/workflow"
)

// ErrAlreadyFinalized is returned when the journal shows a terminal run for
// the job and the caller did not force another one.
var ErrAlreadyFinalized = errors.New("job already finalized")

// Saga is the finalizer entry point.
type Saga interface {
	Run(ctx context.Context, wc workflow.Context, opts ...finalizer.RunOption) (workflow.Context, *finalizer.Report)
}

// Journal records runs. Optional.
type Journal interface {
	AlreadyFinalized(key itemstore.JobKey) (*runjournal.RunRecord, bool, error)
	LedgerApplied(key itemstore.JobKey) (*runjournal.RunRecord, bool, error)
	Start(wc workflow.Context, source runjournal.Source) (*runjournal.RunRecord, error)
	Write(record *runjournal.RunRecord) error
}

// Request is one finalization request.
type Request struct {
	Context workflow.Context
	Source  runjournal.Source
	// Force skips the already-finalized check. It never charges the
	// ledger twice for the same job.
	Force bool
}

// Outcome is what a run produced.
type Outcome struct {
	Context workflow.Context      `json:"context"`
	Report  *finalizer.Report     `json:"report"`
	Run     *runjournal.RunRecord `json:"run,omitempty"`
}

// Runner validates requests, guards against double finalization, and
// journals every run.
type Runner struct {
	saga    Saga
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Runner. journal may be nil.
func New(saga Saga, journal Journal, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		saga:    saga,
		journal: journal,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Finalize runs the saga for req. Errors are only returned for requests that
// were rejected before the saga started; saga failures are reported on the
// outcome's context.
func (r *Runner) Finalize(ctx context.Context, req Request) (*Outcome, error) {
	wc := req.Context
	if err := wc.Validate(); err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("job_name", wc.JobName), zap.String("source", string(req.Source)))

	if r.journal != nil && !req.Force {
		prev, done, err := r.journal.AlreadyFinalized(itemstore.JobKeyFor(&wc))
		if err != nil {
			return nil, fmt.Errorf("check run journal: %w", err)
		}
		if done {
			log.Warn("job already finalized", zap.String("run_id", prev.RunID), zap.String("state", string(prev.State)))
			return nil, fmt.Errorf("%w: run %s (%s)", ErrAlreadyFinalized, prev.RunID, prev.State)
		}
	}

	var opts []finalizer.RunOption
	if r.journal != nil {
		prev, applied, err := r.journal.LedgerApplied(itemstore.JobKeyFor(&wc))
		if err != nil {
			return nil, fmt.Errorf("check run journal: %w", err)
		}
		if applied {
			log.Info("ledger already applied, skipping charge", zap.String("prior_run_id", prev.RunID))
			opts = append(opts, finalizer.LedgerAlreadyApplied())
		}
	}

	var rec *runjournal.RunRecord
	if r.journal != nil {
		var err error
		rec, err = r.journal.Start(wc, req.Source)
		if err != nil {
			return nil, fmt.Errorf("start run record: %w", err)
		}
		log = log.With(zap.String("run_id", rec.RunID))
	}

	out, rep := r.saga.Run(ctx, wc, opts...)

	if rec != nil {
		rec.Complete(out, rep, r.now())
		if err := r.journal.Write(rec); err != nil {
			log.Error("failed to write run record", zap.Error(err))
		}
	}
	return &Outcome{Context: out, Report: rep, Run: rec}, nil
}
