package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/itemstore"
)

func lap(pct float64, ms int64) itemstore.EvaluationMetric {
	return itemstore.EvaluationMetric{CompletionPercentage: pct, ElapsedTimeInMilliseconds: ms}
}

func TestMaxConsecutiveCompletedLaps(t *testing.T) {
	tests := []struct {
		name    string
		metrics []itemstore.EvaluationMetric
		want    int
	}{
		{"empty", nil, 0},
		{"none complete", []itemstore.EvaluationMetric{lap(40, 1), lap(99.9, 1)}, 0},
		{"all complete", []itemstore.EvaluationMetric{lap(100, 1), lap(100, 1), lap(100, 1)}, 3},
		{"longest run wins", []itemstore.EvaluationMetric{lap(100, 1), lap(50, 1), lap(100, 1), lap(100, 1), lap(10, 1), lap(100, 1)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxConsecutiveCompletedLaps(tt.metrics))
		})
	}
}

func TestBestAverageLapTime(t *testing.T) {
	metrics := []itemstore.EvaluationMetric{
		lap(100, 10000), lap(100, 9001), lap(30, 1), lap(100, 8000), lap(100, 8001), lap(100, 12000),
	}
	assert.Equal(t, int64(8000), BestAverageLapTime(metrics, 2), "floored average of 8000 and 8001")
	assert.Equal(t, int64(9333), BestAverageLapTime(metrics, 3))
	assert.Equal(t, int64(8000), BestAverageLapTime(metrics, 1))
	assert.Equal(t, InvalidRankingScore, BestAverageLapTime(metrics, 4), "no four consecutive completed laps")
	assert.Equal(t, InvalidRankingScore, BestAverageLapTime(metrics, 7), "window longer than run")
	assert.Equal(t, InvalidRankingScore, BestAverageLapTime(metrics, 0))
}

func TestComputeStats(t *testing.T) {
	metrics := []itemstore.EvaluationMetric{
		{CompletionPercentage: 100, ElapsedTimeInMilliseconds: 9000, ResetCount: 1, CrashCount: 2, OffTrackCount: 0},
		{CompletionPercentage: 100, ElapsedTimeInMilliseconds: 8500, ResetCount: 0, CrashCount: 0, OffTrackCount: 1},
		{CompletionPercentage: 60, ElapsedTimeInMilliseconds: 4000, ResetCount: 3, CrashCount: 1, OffTrackCount: 2},
	}
	stats := ComputeStats(metrics, 2)
	assert.Equal(t, itemstore.SubmissionStats{
		CompletedLapCount: 2,
		BestLapTime:       4000,
		AvgLapTime:        8750,
		TotalLapTime:      21500,
		ResetCount:        4,
		AvgResets:         4.0 / 3.0,
		CollisionCount:    3,
		OffTrackCount:     3,
	}, stats)
}

func TestComputeStats_NoCompletedLaps(t *testing.T) {
	stats := ComputeStats([]itemstore.EvaluationMetric{lap(20, 3000)}, 1)
	assert.Equal(t, 0, stats.CompletedLapCount)
	assert.Equal(t, int64(3000), stats.BestLapTime, "every metric counts toward the best lap")
	assert.Equal(t, InvalidRankingScore, stats.AvgLapTime)
	assert.Equal(t, int64(3000), stats.TotalLapTime)
}

func TestComputeStats_BestLapIncludesPartialLaps(t *testing.T) {
	metrics := []itemstore.EvaluationMetric{lap(45, 2000), lap(100, 5000), lap(100, 5100)}

	stats := ComputeStats(metrics, 1)
	assert.Equal(t, 2, stats.CompletedLapCount)
	assert.Equal(t, int64(2000), stats.BestLapTime)
	assert.Equal(t, int64(5000), stats.AvgLapTime)

	score, err := RankingScore(stats, itemstore.TimingBestLapTime, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), score)
}

func TestComputeStats_NoMetrics(t *testing.T) {
	stats := ComputeStats(nil, 1)
	assert.Equal(t, InvalidRankingScore, stats.BestLapTime)
	assert.Zero(t, stats.AvgResets)
}

func TestRankingScore(t *testing.T) {
	stats := itemstore.SubmissionStats{CompletedLapCount: 3, BestLapTime: 7000, AvgLapTime: 7500, TotalLapTime: 22000}

	tests := []struct {
		method      itemstore.TimingMethod
		minimumLaps int
		want        int64
	}{
		{itemstore.TimingAvgLapTime, 3, 7500},
		{itemstore.TimingBestLapTime, 1, 7000},
		{itemstore.TimingTotalTime, 2, 22000},
		{itemstore.TimingTotalTime, 4, InvalidRankingScore},
	}
	for _, tt := range tests {
		got, err := RankingScore(stats, tt.method, tt.minimumLaps)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s minimumLaps=%d", tt.method, tt.minimumLaps)
	}

	_, err := RankingScore(stats, "FASTEST", 1)
	assert.Error(t, err)

	unavailable := itemstore.SubmissionStats{CompletedLapCount: 3, AvgLapTime: InvalidRankingScore}
	got, err := RankingScore(unavailable, itemstore.TimingAvgLapTime, 1)
	require.NoError(t, err)
	assert.Equal(t, InvalidRankingScore, got)
}

func TestEvaluate_QualificationGate(t *testing.T) {
	// One completed lap against a two-lap minimum: stats are kept, no score.
	out, err := Evaluate([]itemstore.EvaluationMetric{lap(100, 5000), lap(40, 2000)}, 2, itemstore.TimingAvgLapTime)
	require.NoError(t, err)
	assert.True(t, out.HasLaps())
	assert.False(t, out.Ranked())
	assert.Nil(t, out.StoredScore())

	out, err = Evaluate([]itemstore.EvaluationMetric{lap(100, 4900), lap(100, 5100)}, 2, itemstore.TimingAvgLapTime)
	require.NoError(t, err)
	assert.True(t, out.Ranked())
	require.NotNil(t, out.StoredScore())
	assert.Equal(t, int64(5000), *out.StoredScore())

	out, err = Evaluate([]itemstore.EvaluationMetric{lap(10, 500)}, 1, itemstore.TimingTotalTime)
	require.NoError(t, err)
	assert.False(t, out.HasLaps())
	assert.False(t, out.Ranked())
}
