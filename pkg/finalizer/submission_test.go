package finalizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/workflow"
)

func laps(times ...int64) []itemstore.EvaluationMetric {
	out := make([]itemstore.EvaluationMetric, 0, len(times))
	for i, ms := range times {
		pct := 100.0
		if ms < 0 {
			pct, ms = 50, -ms
		}
		out = append(out, itemstore.EvaluationMetric{Trial: i + 1, CompletionPercentage: pct, ElapsedTimeInMilliseconds: ms})
	}
	return out
}

// submit seeds a submission job whose metrics are the given laps (negative
// times mark incomplete laps) and finalizes it.
func (h *harness) submit(id string, metrics []itemstore.EvaluationMetric) (workflow.Context, *Report) {
	h.t.Helper()
	ctx := context.Background()
	loc := "s3://models/p1/models/m1/metrics/submission/" + id + ".json"
	h.metrics.docs[loc] = metrics

	wc := workflow.Context{
		JobName:       "sub-" + id,
		JobKind:       workflow.JobKindSubmission,
		ProfileID:     "p1",
		ModelID:       "m1",
		LeaderboardID: "lb1",
		TrainingJob:   &workflow.TrainingJob{Name: "sm-sub-" + id, Status: workflow.TrainingJobCompleted},
	}
	h.createJob(wc, itemstore.JobStatusInProgress, loc)
	require.NoError(h.t, h.store.CreateSubmission(ctx, itemstore.Submission{
		SubmissionKey:        itemstore.SubmissionKey{LeaderboardID: "lb1", ProfileID: "p1", SubmissionID: id},
		JobName:              wc.JobName,
		ModelID:              "m1",
		ModelName:            "fast",
		MetricsLocation:      loc,
		PrimaryVideoLocation: "s3://models/p1/models/m1/videos/" + id + ".mp4",
	}))

	out, rep := h.finalizer().Run(ctx, wc)
	return out, rep
}

func (h *harness) submission(id string) *itemstore.Submission {
	h.t.Helper()
	s, err := h.store.GetSubmission(context.Background(), itemstore.SubmissionKey{LeaderboardID: "lb1", ProfileID: "p1", SubmissionID: id})
	require.NoError(h.t, err)
	return s
}

func (h *harness) participants() int64 {
	h.t.Helper()
	lb, err := h.store.GetLeaderboard(context.Background(), "lb1")
	require.NoError(h.t, err)
	return lb.ParticipantCount
}

func TestSubmission_LeaderboardScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A: one completed lap against a two-lap minimum.
	out, rep := h.submit("A", laps(5000, -2000))
	assert.Nil(t, out.ErrorDetails)
	assert.Equal(t, itemstore.JobStatusCompleted, rep.Status)
	a := h.submission("A")
	require.NotNil(t, a.Stats)
	assert.Equal(t, 1, a.Stats.CompletedLapCount)
	assert.Nil(t, a.RankingScore)
	_, err := h.store.GetRanking(ctx, "lb1", "p1")
	assert.ErrorIs(t, err, itemstore.ErrNotFound)
	assert.Equal(t, int64(0), h.participants())

	// B: qualifies with an average of 5000.
	out, _ = h.submit("B", laps(4900, 5100))
	assert.Nil(t, out.ErrorDetails)
	b := h.submission("B")
	require.NotNil(t, b.RankingScore)
	assert.Equal(t, int64(5000), *b.RankingScore)
	r, err := h.store.GetRanking(ctx, "lb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "B", r.SubmissionID)
	assert.Equal(t, int64(1), h.participants())

	// C: better average replaces the ranking.
	h.submit("C", laps(4700, 4900))
	r, err = h.store.GetRanking(ctx, "lb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "C", r.SubmissionID)
	assert.Equal(t, int64(4800), r.RankingScore)
	assert.Equal(t, "speedy", r.UserProfile.Alias)
	assert.Equal(t, int64(1), h.participants())

	// D: worse average leaves it alone.
	h.submit("D", laps(5200, 5200))
	r, err = h.store.GetRanking(ctx, "lb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "C", r.SubmissionID)
	assert.Equal(t, int64(4800), r.RankingScore)
	assert.Equal(t, int64(1), h.participants())
	d := h.submission("D")
	require.NotNil(t, d.RankingScore, "the submission keeps its own score")
	assert.Equal(t, int64(5200), *d.RankingScore)
}

func TestSubmission_NoCompletedLapsWritesNothing(t *testing.T) {
	h := newHarness(t)

	out, rep := h.submit("Z", laps(-1000, -900))
	assert.Nil(t, out.ErrorDetails)
	assert.Equal(t, itemstore.JobStatusCompleted, rep.Status)

	z := h.submission("Z")
	assert.Nil(t, z.Stats)
	assert.Nil(t, z.RankingScore)
	assert.Equal(t, int64(0), h.participants())

	var rankingSkipped bool
	for _, r := range rep.Results {
		if r.Phase == workflow.PhaseRankingStats {
			rankingSkipped = r.Skipped
		}
	}
	assert.True(t, rankingSkipped)
}

func TestSubmission_RankingFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.deps.Ranker = failingRanker{err: errors.New("ranking table locked")}

	out, rep := h.submit("B", laps(4900, 5100))

	require.NotNil(t, out.ErrorDetails)
	assert.Contains(t, out.ErrorDetails.Message, "ranking table locked")
	assert.Equal(t, itemstore.JobStatusFailed, rep.Status)

	b := h.submission("B")
	require.NotNil(t, b.RankingScore, "stats written before ranking are kept")
	assert.Equal(t, itemstore.ModelStatusError, h.model().Status)
}

func TestSubmission_MissingSubmissionRecord(t *testing.T) {
	h := newHarness(t)
	wc := workflow.Context{
		JobName: "sub-orphan", JobKind: workflow.JobKindSubmission, ProfileID: "p1", ModelID: "m1", LeaderboardID: "lb1",
		TrainingJob: &workflow.TrainingJob{Name: "sm-orphan", Status: workflow.TrainingJobCompleted},
	}
	h.createJob(wc, itemstore.JobStatusInProgress, "")

	out, rep := h.finalizer().Run(context.Background(), wc)

	require.NotNil(t, out.ErrorDetails)
	assert.Contains(t, out.ErrorDetails.Message, "not found")
	assert.Equal(t, itemstore.JobStatusFailed, h.job(wc).Status)
	require.Len(t, h.recorder.events, 1)
	assert.Equal(t, "lb1", h.recorder.events[0].LeaderboardID)
	assert.Equal(t, itemstore.JobStatusFailed, rep.Status)
}

func TestSubmission_FirstFailureWins(t *testing.T) {
	h := newHarness(t)
	h.exec.describeErr = errors.New("describe throttled")
	h.deps.Ranker = failingRanker{err: errors.New("ranking failed")}

	out, _ := h.submit("B", laps(4900, 5100))

	require.NotNil(t, out.ErrorDetails)
	assert.Contains(t, out.ErrorDetails.Message, "describe throttled")
}
