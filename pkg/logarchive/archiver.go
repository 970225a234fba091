package logarchive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/s3path"
	"github.com/3leaps/trackside/pkg/workflow"
)

// Default CloudWatch log groups written by the simulation and training containers.
const (
	DefaultTrainingLogGroup           = "/aws/trackside/training/TrainingJobs"
	DefaultTrainingSimulationLogGroup = "/aws/trackside/training/SimulationJobs"
	DefaultEvaluationSimulationGroup  = "/aws/sagemaker/TrainingJobs"
)

// LogGroups names the source log group for each archived stream.
type LogGroups struct {
	Training           string `mapstructure:"training"`
	TrainingSimulation string `mapstructure:"training_simulation"`
	// EvaluationSimulation also serves submission jobs.
	EvaluationSimulation string `mapstructure:"evaluation_simulation"`
}

// DefaultLogGroups returns the stock log group names.
func DefaultLogGroups() LogGroups {
	return LogGroups{
		Training:             DefaultTrainingLogGroup,
		TrainingSimulation:   DefaultTrainingSimulationLogGroup,
		EvaluationSimulation: DefaultEvaluationSimulationGroup,
	}
}

// StreamCopier copies one log stream to an object location.
type StreamCopier interface {
	Copy(ctx context.Context, logGroup, streamPrefix, destination string) (*CopyStats, error)
}

// JobRecords is the job table subset the archiver writes to.
type JobRecords interface {
	UpdateJob(ctx context.Context, key itemstore.JobKey, upd itemstore.JobUpdate) error
}

// Archiver copies a finished job's process logs and records their locations
// on the job record. Failures are logged and reported as swallowed results;
// they never fail the surrounding finalization.
type Archiver struct {
	copier StreamCopier
	jobs   JobRecords
	layout s3path.Layout
	groups LogGroups
	now    func() time.Time
	logger *zap.Logger
}

// NewArchiver wires an Archiver. Empty log group names fall back to defaults.
func NewArchiver(copier StreamCopier, jobs JobRecords, layout s3path.Layout, groups LogGroups, logger *zap.Logger) *Archiver {
	def := DefaultLogGroups()
	if groups.Training == "" {
		groups.Training = def.Training
	}
	if groups.TrainingSimulation == "" {
		groups.TrainingSimulation = def.TrainingSimulation
	}
	if groups.EvaluationSimulation == "" {
		groups.EvaluationSimulation = def.EvaluationSimulation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		copier: copier,
		jobs:   jobs,
		layout: layout,
		groups: groups,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Archive archives the logs wc's job kind produces. Training jobs archive the
// training and simulation streams; evaluation and submission jobs archive
// only the simulation stream.
func (a *Archiver) Archive(ctx context.Context, wc *workflow.Context) workflow.Result {
	var err error
	switch wc.JobKind {
	case workflow.JobKindTraining:
		err = a.archiveTraining(ctx, wc)
	case workflow.JobKindEvaluation, workflow.JobKindSubmission:
		err = a.archiveSimulation(ctx, wc)
	default:
		err = fmt.Errorf("unknown job kind %q", wc.JobKind)
	}
	if err != nil {
		a.logger.Error("failed to archive job logs",
			zap.String("job_name", wc.JobName),
			zap.String("job_kind", string(wc.JobKind)),
			zap.Error(err),
		)
		r := workflow.Fail(workflow.PhaseArchiveLogs, err)
		r.Swallowed = true
		return r
	}
	return workflow.OK(workflow.PhaseArchiveLogs)
}

func (a *Archiver) archiveTraining(ctx context.Context, wc *workflow.Context) error {
	at := a.now()
	trainingLoc := a.layout.LogLocation(wc.ProfileID, wc.ModelID, wc.JobKind, wc.JobName, s3path.LogTraining, at)
	simulationLoc := a.layout.LogLocation(wc.ProfileID, wc.ModelID, wc.JobKind, wc.JobName, s3path.LogSimulation, at)

	if _, err := a.copier.Copy(ctx, a.groups.Training, wc.JobName, trainingLoc); err != nil {
		return fmt.Errorf("training log: %w", err)
	}
	if _, err := a.copier.Copy(ctx, a.groups.TrainingSimulation, wc.JobName, simulationLoc); err != nil {
		return fmt.Errorf("simulation log: %w", err)
	}

	return a.jobs.UpdateJob(ctx, itemstore.JobKeyFor(wc), itemstore.JobUpdate{
		TrainingLogsLocation:   &trainingLoc,
		SimulationLogsLocation: &simulationLoc,
	})
}

func (a *Archiver) archiveSimulation(ctx context.Context, wc *workflow.Context) error {
	simulationLoc := a.layout.LogLocation(wc.ProfileID, wc.ModelID, wc.JobKind, wc.JobName, s3path.LogSimulation, a.now())

	if _, err := a.copier.Copy(ctx, a.groups.EvaluationSimulation, wc.JobName, simulationLoc); err != nil {
		return fmt.Errorf("simulation log: %w", err)
	}
	return a.jobs.UpdateJob(ctx, itemstore.JobKeyFor(wc), itemstore.JobUpdate{
		SimulationLogsLocation: &simulationLoc,
	})
}
