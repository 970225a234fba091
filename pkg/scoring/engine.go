package scoring

import (
	"context"
	"errors"

	"github.com/3leaps/trackside/pkg/itemstore"
)

// Outcome is a scored submission.
type Outcome struct {
	Stats itemstore.SubmissionStats
	Score int64
}

// HasLaps reports whether anything is worth persisting.
func (o Outcome) HasLaps() bool {
	return o.Stats.CompletedLapCount > 0
}

// Ranked reports whether the score is defined and should be ranked.
func (o Outcome) Ranked() bool {
	return o.HasLaps() && o.Score != InvalidRankingScore
}

// StoredScore returns the score as persisted: nil for the sentinel.
func (o Outcome) StoredScore() *int64 {
	if !o.Ranked() {
		return nil
	}
	s := o.Score
	return &s
}

// Reader loads per-lap metrics from a location.
type Reader interface {
	Read(ctx context.Context, location string) ([]itemstore.EvaluationMetric, error)
}

// Engine scores submissions against their leaderboard.
type Engine struct {
	reader Reader
}

func NewEngine(reader Reader) *Engine {
	return &Engine{reader: reader}
}

// Score loads the metrics at metricsLocation and scores them under lb's rules.
func (e *Engine) Score(ctx context.Context, metricsLocation string, lb *itemstore.Leaderboard) (Outcome, error) {
	if lb == nil {
		return Outcome{}, errors.New("scoring: leaderboard is required")
	}
	metrics, err := e.reader.Read(ctx, metricsLocation)
	if err != nil {
		return Outcome{}, err
	}
	return Evaluate(metrics, lb.MinimumLaps, lb.TimingMethod)
}

// Evaluate scores already loaded metrics.
func Evaluate(metrics []itemstore.EvaluationMetric, minimumLaps int, method itemstore.TimingMethod) (Outcome, error) {
	stats := ComputeStats(metrics, minimumLaps)
	score, err := RankingScore(stats, method, minimumLaps)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Stats: stats, Score: score}, nil
}
