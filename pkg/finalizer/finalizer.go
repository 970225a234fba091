// Package finalizer runs the saga that closes out a training, evaluation, or
// submission job once its execution has ended.
//
// The saga has two phases. finalizeJob reconciles the execution job (stop
// it if it is still running), removes the video stream, archives logs and
// charges compute minutes. persistWorkflowData then writes the terminal job
// and model status and, for submissions, scores and ranks the run.
//
// Handle never fails: every error is captured on the returned context's
// ErrorDetails (first failure wins) and panics inside a phase are recovered.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/execution"
	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/ledger"
	"github.com/3leaps/trackside/pkg/ranking"
	"github.com/3leaps/trackside/pkg/scoring"
	"github.com/3leaps/trackside/pkg/workflow"
)

// ExecutionService describes and stops execution jobs.
type ExecutionService interface {
	Describe(ctx context.Context, jobName string) (*execution.JobDescription, error)
	Stop(ctx context.Context, jobName string) error
}

// StreamDeleter removes a job's live video stream.
type StreamDeleter interface {
	Delete(ctx context.Context, streamArn string) error
}

// LogArchiver copies a job's process logs to durable storage.
type LogArchiver interface {
	Archive(ctx context.Context, wc *workflow.Context) workflow.Result
}

// UsageLedger charges compute minutes.
type UsageLedger interface {
	Compute(elapsedSeconds int64, maxRuntimeSeconds *int64, forced bool) ledger.Charge
	Apply(ctx context.Context, profileID string, c ledger.Charge) error
}

// Store is the item-store subset the saga reads and writes.
type Store interface {
	GetJob(ctx context.Context, key itemstore.JobKey) (*itemstore.Job, error)
	UpdateJob(ctx context.Context, key itemstore.JobKey, upd itemstore.JobUpdate) error
	UpdateModel(ctx context.Context, key itemstore.ModelKey, upd itemstore.ModelUpdate) error
	GetSubmissionByJob(ctx context.Context, leaderboardID, profileID, jobName string) (*itemstore.Submission, error)
	GetLeaderboard(ctx context.Context, leaderboardID string) (*itemstore.Leaderboard, error)
	UpdateSubmissionPerformance(ctx context.Context, key itemstore.SubmissionKey, stats itemstore.SubmissionStats, score *int64) error
}

// MetricsReader loads an evaluation run's per-trial metrics.
type MetricsReader interface {
	Read(ctx context.Context, location string) ([]itemstore.EvaluationMetric, error)
}

// Scorer scores a submission's metrics against its leaderboard.
type Scorer interface {
	Score(ctx context.Context, metricsLocation string, lb *itemstore.Leaderboard) (scoring.Outcome, error)
}

// Ranker applies keep-best ranking semantics.
type Ranker interface {
	Reconcile(ctx context.Context, c ranking.Candidate) (ranking.Decision, error)
}

// Completion is the job-completion event emitted once per persisted job.
type Completion struct {
	Kind           workflow.JobKind
	Status         itemstore.JobStatus
	ModelID        string
	LeaderboardID  string
	ChargedMinutes int64
}

// Recorder receives job-completion events.
type Recorder interface {
	JobCompleted(c Completion)
}

// Deps are the collaborators a Finalizer needs. Recorder is optional.
type Deps struct {
	Execution ExecutionService
	Streams   StreamDeleter
	Archiver  LogArchiver
	Ledger    UsageLedger
	Store     Store
	Metrics   MetricsReader
	Scorer    Scorer
	Ranker    Ranker
	Recorder  Recorder
}

func (d Deps) validate() error {
	var missing []string
	if d.Execution == nil {
		missing = append(missing, "execution")
	}
	if d.Streams == nil {
		missing = append(missing, "streams")
	}
	if d.Archiver == nil {
		missing = append(missing, "archiver")
	}
	if d.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Metrics == nil {
		missing = append(missing, "metrics")
	}
	if d.Scorer == nil {
		missing = append(missing, "scorer")
	}
	if d.Ranker == nil {
		missing = append(missing, "ranker")
	}
	if len(missing) > 0 {
		return fmt.Errorf("finalizer: missing dependencies: %v", missing)
	}
	return nil
}

// State is the saga's progress.
type State string

const (
	StateRunning    State = "RUNNING"
	StateFinalizing State = "FINALIZING"
	StatePersisted  State = "PERSISTED"
)

// Report describes what one run did.
type Report struct {
	State   State            `json:"state"`
	Results workflow.Results `json:"results"`

	Charge ledger.Charge `json:"charge"`
	Forced bool          `json:"forced,omitempty"`

	// Canceled is set when the job record was already CANCELED and nothing
	// was persisted.
	Canceled bool `json:"canceled,omitempty"`

	// Status is the terminal status written to the job record, empty when
	// none was written.
	Status itemstore.JobStatus `json:"status,omitempty"`
}

func (r *Report) add(res workflow.Result) workflow.Result {
	return r.Results.Add(res)
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithLogger sets the finalizer's logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Finalizer) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides the clock used for job end times.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) {
		if now != nil {
			f.now = now
		}
	}
}

// RunOption adjusts a single Run.
type RunOption func(*runSettings)

type runSettings struct {
	ledgerApplied bool
}

// LedgerAlreadyApplied marks the job's runtime as already charged by an
// earlier run. The ledger phase is recorded as skipped.
func LedgerAlreadyApplied() RunOption {
	return func(s *runSettings) { s.ledgerApplied = true }
}

// Finalizer runs the finalization saga.
type Finalizer struct {
	deps   Deps
	now    func() time.Time
	logger *zap.Logger
}

// New validates deps and builds a Finalizer.
func New(deps Deps, opts ...Option) (*Finalizer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	f := &Finalizer{
		deps:   deps,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Handle finalizes the job wc describes and returns the resulting context.
// It never fails; see Run for the per-phase report.
func (f *Finalizer) Handle(ctx context.Context, wc workflow.Context) workflow.Context {
	out, _ := f.Run(ctx, wc)
	return out
}

// Run finalizes the job wc describes. The input is not modified.
func (f *Finalizer) Run(ctx context.Context, wc workflow.Context, opts ...RunOption) (workflow.Context, *Report) {
	var settings runSettings
	for _, opt := range opts {
		opt(&settings)
	}
	out := wc.Clone()
	rep := &Report{State: StateRunning}
	log := f.logger.With(zap.String("job_name", out.JobName), zap.String("job_kind", string(out.JobKind)))

	res := f.guard(workflow.PhaseFinalizeJob, func() error {
		return f.finalizeJob(ctx, &out, rep, settings)
	})
	if res.Failed() {
		// Returned errors are already on a phase result.
		if errors.Is(res.Err, errPanic) {
			rep.add(res)
		}
		if out.RecordError(res.Err) {
			log.Error("finalize job failed", zap.Error(res.Err))
		}
	}
	rep.State = StateFinalizing

	res = f.guard(workflow.PhasePersistWorkflowData, func() error {
		f.persistWorkflowData(ctx, &out, rep)
		return nil
	})
	if res.Failed() {
		rep.add(res)
		out.RecordError(res.Err)
		log.Error("persist workflow data failed", zap.Error(res.Err))
	}
	rep.State = StatePersisted

	log.Info("job finalized",
		zap.String("status", string(rep.Status)),
		zap.Bool("canceled", rep.Canceled),
		zap.Bool("failed", out.Failed()),
	)
	return out, rep
}

// errPanic wraps a value recovered from a panicking phase.
var errPanic = errors.New("panic in finalization phase")

// guard runs fn as phase, converting a panic into a failed result.
func (f *Finalizer) guard(phase workflow.Phase, fn func() error) (res workflow.Result) {
	defer func() {
		if v := recover(); v != nil {
			f.logger.Error("recovered panic", zap.String("phase", string(phase)), zap.Any("panic", v))
			res = workflow.Fail(phase, fmt.Errorf("%w %s: %v", errPanic, phase, v))
		}
	}()
	if err := fn(); err != nil {
		return workflow.Fail(phase, err)
	}
	return workflow.OK(phase)
}
