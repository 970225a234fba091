package finalizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/execution"
	"github.com/3leaps/trackside/pkg/workflow"
)

// finalizeJob cleans up the job's execution resources and charges its
// runtime. Execution service and ledger errors are returned; archival
// failures are recorded on rep and otherwise ignored.
func (f *Finalizer) finalizeJob(ctx context.Context, wc *workflow.Context, rep *Report, settings runSettings) error {
	// The stream goes regardless of what happens to the job. A failed delete
	// does not stop the remaining cleanup but still fails the phase.
	streamErr := f.deleteVideoStream(ctx, wc, rep)

	if wc.TrainingJob == nil || wc.TrainingJob.Name == "" {
		f.logger.Info("no training job was created, nothing to reconcile", zap.String("job_name", wc.JobName))
		rep.add(workflow.Skip(workflow.PhaseReconcileStatus))
		return streamErr
	}

	desc, forced, err := f.reconcileStatus(ctx, wc)
	if err != nil {
		rep.add(workflow.Fail(workflow.PhaseReconcileStatus, err))
		return err
	}
	rep.add(workflow.OK(workflow.PhaseReconcileStatus))
	rep.Forced = forced

	rep.add(f.deps.Archiver.Archive(ctx, wc))

	if settings.ledgerApplied {
		f.logger.Info("runtime already charged by an earlier run", zap.String("job_name", wc.JobName))
		rep.add(workflow.Skip(workflow.PhaseLedger))
		return streamErr
	}

	charge := f.deps.Ledger.Compute(desc.ElapsedSeconds, desc.MaxRuntimeSeconds, forced)
	if err := f.deps.Ledger.Apply(ctx, wc.ProfileID, charge); err != nil {
		rep.add(workflow.Fail(workflow.PhaseLedger, err))
		return err
	}
	rep.Charge = charge
	rep.add(workflow.OK(workflow.PhaseLedger))

	return streamErr
}

func (f *Finalizer) deleteVideoStream(ctx context.Context, wc *workflow.Context, rep *Report) error {
	if wc.VideoStream == nil || wc.VideoStream.Arn == "" {
		rep.add(workflow.Skip(workflow.PhaseVideoStream))
		return nil
	}
	f.logger.Info("deleting video stream", zap.String("stream_name", wc.VideoStream.Name))
	if err := f.deps.Streams.Delete(ctx, wc.VideoStream.Arn); err != nil {
		rep.add(workflow.Fail(workflow.PhaseVideoStream, err))
		return err
	}
	rep.add(workflow.OK(workflow.PhaseVideoStream))
	return nil
}

// reconcileStatus stops a job the caller does not believe has ended, then
// reads the service's view of it. forced reports whether a stop was needed.
// For training jobs that left an artifact behind, the artifact location is
// written back onto wc.
func (f *Finalizer) reconcileStatus(ctx context.Context, wc *workflow.Context) (*execution.JobDescription, bool, error) {
	tj := wc.TrainingJob
	forced := false

	if !tj.Status.Terminal() {
		f.logger.Info("training job in non-terminal state, terminating",
			zap.String("training_job", tj.Name),
			zap.String("status", string(tj.Status)),
		)
		if err := f.deps.Execution.Stop(ctx, tj.Name); err != nil {
			return nil, false, fmt.Errorf("stop training job: %w", err)
		}
		tj.Status = workflow.TrainingJobStopped
		forced = true
	}

	desc, err := f.deps.Execution.Describe(ctx, tj.Name)
	if err != nil {
		return nil, forced, fmt.Errorf("describe training job: %w", err)
	}

	if wc.JobKind == workflow.JobKindTraining && tj.Status.ProducedArtifacts() {
		tj.ModelArtifactS3Location = desc.ArtifactLocation
	}
	return desc, forced, nil
}
