// Package scoring turns a submission's per-lap metrics into aggregate
// statistics and a single leaderboard ranking score. Lower scores are better.
package scoring

import (
	"fmt"

	"github.com/3leaps/trackside/pkg/itemstore"
)

// InvalidRankingScore is the sentinel for "no valid score". It is the
// largest integer that survives a round trip through a float64 so stored
// values stay comparable across clients.
const InvalidRankingScore int64 = 1<<53 - 1

// lapCompleted is the completion percentage of a finished lap.
const lapCompleted = 100

func completed(m itemstore.EvaluationMetric) bool {
	return m.CompletionPercentage == lapCompleted
}

// MaxConsecutiveCompletedLaps returns the longest run of completed laps.
func MaxConsecutiveCompletedLaps(metrics []itemstore.EvaluationMetric) int {
	best, streak := 0, 0
	for _, m := range metrics {
		if !completed(m) {
			streak = 0
			continue
		}
		streak++
		best = max(best, streak)
	}
	return best
}

// BestAverageLapTime returns the lowest average over any window of laps
// consecutive completed laps, floored to the millisecond. It returns
// InvalidRankingScore when no such window exists.
func BestAverageLapTime(metrics []itemstore.EvaluationMetric, laps int) int64 {
	best := InvalidRankingScore
	if laps <= 0 || laps > len(metrics) {
		return best
	}

	var sum int64
	run := 0
	for i, m := range metrics {
		if !completed(m) {
			sum, run = 0, 0
			continue
		}
		sum += m.ElapsedTimeInMilliseconds
		run++
		if run > laps {
			sum -= metrics[i-laps].ElapsedTimeInMilliseconds
			run = laps
		}
		if run == laps {
			best = min(best, sum/int64(laps))
		}
	}
	return best
}

// ComputeStats aggregates metrics. The rolling average uses windows of
// minimumLaps consecutive completed laps. The best lap is the fastest
// metric of any completion; RankingScore gates on completed laps.
func ComputeStats(metrics []itemstore.EvaluationMetric, minimumLaps int) itemstore.SubmissionStats {
	stats := itemstore.SubmissionStats{
		CompletedLapCount: MaxConsecutiveCompletedLaps(metrics),
		AvgLapTime:        BestAverageLapTime(metrics, minimumLaps),
		BestLapTime:       InvalidRankingScore,
	}
	for _, m := range metrics {
		stats.ResetCount += m.ResetCount
		stats.CollisionCount += m.CrashCount
		stats.OffTrackCount += m.OffTrackCount
		stats.TotalLapTime += m.ElapsedTimeInMilliseconds
		stats.BestLapTime = min(stats.BestLapTime, m.ElapsedTimeInMilliseconds)
	}
	if len(metrics) > 0 {
		stats.AvgResets = float64(stats.ResetCount) / float64(len(metrics))
	}
	return stats
}

// RankingScore derives the score for stats under method. Submissions below
// minimumLaps consecutive completed laps score InvalidRankingScore.
func RankingScore(stats itemstore.SubmissionStats, method itemstore.TimingMethod, minimumLaps int) (int64, error) {
	var score int64
	switch method {
	case itemstore.TimingAvgLapTime:
		score = stats.AvgLapTime
	case itemstore.TimingBestLapTime:
		score = stats.BestLapTime
	case itemstore.TimingTotalTime:
		score = stats.TotalLapTime
	default:
		return InvalidRankingScore, fmt.Errorf("invalid timing method %q", method)
	}
	if stats.CompletedLapCount == 0 || stats.CompletedLapCount < minimumLaps || score < 0 || score >= InvalidRankingScore {
		return InvalidRankingScore, nil
	}
	return score, nil
}
