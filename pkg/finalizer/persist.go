package finalizer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/ranking"
	"github.com/3leaps/trackside/pkg/workflow"
)

// persistWorkflowData writes the job's terminal state. A job already
// CANCELED by its owner is left untouched.
func (f *Finalizer) persistWorkflowData(ctx context.Context, wc *workflow.Context, rep *Report) {
	log := f.logger.With(zap.String("job_name", wc.JobName), zap.String("model_id", wc.ModelID))
	key := itemstore.JobKeyFor(wc)

	job, err := f.deps.Store.GetJob(ctx, key)
	if err != nil {
		f.record(wc, rep, workflow.Fail(workflow.PhaseReadJob, fmt.Errorf("read job: %w", err)))
		log.Error("failed to re-read job, skipping persistence", zap.Error(err))
		return
	}
	rep.add(workflow.OK(workflow.PhaseReadJob))
	if job.Status == itemstore.JobStatusCanceled {
		log.Info("job was canceled, preserving CANCELED status")
		rep.Canceled = true
		rep.add(workflow.Skip(workflow.PhasePersistWorkflowData))
		return
	}

	switch wc.JobKind {
	case workflow.JobKindEvaluation:
		f.record(wc, rep, f.guard(workflow.PhaseEvaluationMetrics, func() error {
			return f.persistEvaluationMetrics(ctx, wc, job)
		}))
	case workflow.JobKindSubmission:
		f.persistSubmissionStats(ctx, wc, rep)
	}

	status := itemstore.JobStatusCompleted
	modelStatus := itemstore.ModelStatusReady
	if wc.Failed() || (wc.TrainingJob != nil && wc.TrainingJob.Status == workflow.TrainingJobFailed) {
		status = itemstore.JobStatusFailed
		modelStatus = itemstore.ModelStatusError
	}

	modelUpd := itemstore.ModelUpdate{Status: &modelStatus}
	if wc.JobKind == workflow.JobKindTraining && wc.TrainingJob != nil && wc.TrainingJob.ModelArtifactS3Location != "" {
		loc := wc.TrainingJob.ModelArtifactS3Location
		modelUpd.ArtifactLocation = &loc
	}
	f.record(wc, rep, f.guard(workflow.PhasePersistModel, func() error {
		return f.deps.Store.UpdateModel(ctx, itemstore.ModelKey{ModelID: wc.ModelID, ProfileID: wc.ProfileID}, modelUpd)
	}))

	end := f.now()
	jobRes := f.record(wc, rep, f.guard(workflow.PhasePersistJob, func() error {
		return f.deps.Store.UpdateJob(ctx, key, itemstore.JobUpdate{
			Status:              &status,
			EndTime:             &end,
			ClearVideoStreamURL: true,
		})
	}))
	if !jobRes.Failed() {
		rep.Status = status
	}

	if f.deps.Recorder != nil {
		f.deps.Recorder.JobCompleted(Completion{
			Kind:           wc.JobKind,
			Status:         status,
			ModelID:        wc.ModelID,
			LeaderboardID:  wc.LeaderboardID,
			ChargedMinutes: rep.Charge.MinutesUsed,
		})
	}
}

// record adds res to rep and, for a failure, to wc's error details.
func (f *Finalizer) record(wc *workflow.Context, rep *Report, res workflow.Result) workflow.Result {
	rep.add(res)
	if res.Failed() && !res.Swallowed {
		if wc.RecordError(res.Err) {
			f.logger.Error("finalization phase failed", zap.String("phase", string(res.Phase)), zap.Error(res.Err))
		} else {
			f.logger.Warn("finalization phase failed after an earlier failure",
				zap.String("phase", string(res.Phase)), zap.Error(res.Err))
		}
	}
	return res
}

func (f *Finalizer) persistEvaluationMetrics(ctx context.Context, wc *workflow.Context, job *itemstore.Job) error {
	if job.MetricsLocation == "" {
		return errors.New("evaluation job has no metrics location")
	}
	metrics, err := f.deps.Metrics.Read(ctx, job.MetricsLocation)
	if err != nil {
		return err
	}
	if metrics == nil {
		metrics = []itemstore.EvaluationMetric{}
	}
	return f.deps.Store.UpdateJob(ctx, itemstore.JobKeyFor(wc), itemstore.JobUpdate{EvaluationMetrics: &metrics})
}

// persistSubmissionStats scores the submission and, when it earned a
// score, hands it to the ranking reconciler. Results for both steps are
// recorded on rep.
func (f *Finalizer) persistSubmissionStats(ctx context.Context, wc *workflow.Context, rep *Report) {
	log := f.logger.With(zap.String("leaderboard_id", wc.LeaderboardID), zap.String("profile_id", wc.ProfileID))

	var candidate *ranking.Candidate
	res := f.record(wc, rep, f.guard(workflow.PhaseSubmissionStats, func() error {
		sub, err := f.deps.Store.GetSubmissionByJob(ctx, wc.LeaderboardID, wc.ProfileID, wc.JobName)
		if err != nil {
			return err
		}
		lb, err := f.deps.Store.GetLeaderboard(ctx, wc.LeaderboardID)
		if err != nil {
			return err
		}
		out, err := f.deps.Scorer.Score(ctx, sub.MetricsLocation, lb)
		if err != nil {
			return err
		}

		if !out.HasLaps() {
			log.Info("submission has no completed laps, not updating submission performance")
			return nil
		}
		log.Info("updating submission performance", zap.Int("completed_lap_count", out.Stats.CompletedLapCount))
		if err := f.deps.Store.UpdateSubmissionPerformance(ctx, sub.SubmissionKey, out.Stats, out.StoredScore()); err != nil {
			return err
		}

		if !out.Ranked() {
			log.Info("submission did not meet leaderboard requirements, skipping ranking",
				zap.Int("completed_lap_count", out.Stats.CompletedLapCount),
				zap.Int("minimum_laps", lb.MinimumLaps),
			)
			return nil
		}
		candidate = &ranking.Candidate{ModelID: wc.ModelID, Submission: sub, Stats: out.Stats, Score: out.Score}
		return nil
	}))

	if res.Failed() || candidate == nil {
		rep.add(workflow.Skip(workflow.PhaseRankingStats))
		return
	}
	f.record(wc, rep, f.guard(workflow.PhaseRankingStats, func() error {
		decision, err := f.deps.Ranker.Reconcile(ctx, *candidate)
		if err != nil {
			return err
		}
		log.Info("ranking reconciled", zap.String("decision", string(decision)))
		return nil
	}))
}
