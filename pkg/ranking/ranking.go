// Package ranking keeps each user's best leaderboard score.
//
// A ranking is created on a user's first qualifying submission, replaced
// only by a strictly lower score, and otherwise left alone. The leaderboard
// participant count grows exactly when a ranking is created.
package ranking

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/itemstore"
)

// Decision is what Reconcile did.
type Decision string

const (
	Created  Decision = "created"
	Replaced Decision = "replaced"
	Kept     Decision = "kept"
)

// Store is the item-store subset used by the reconciler.
type Store interface {
	GetRanking(ctx context.Context, leaderboardID, profileID string) (*itemstore.Ranking, error)
	GetProfile(ctx context.Context, profileID string) (*itemstore.Profile, error)
	CreateRanking(ctx context.Context, r itemstore.Ranking) (bool, error)
	ReplaceRankingIfBetter(ctx context.Context, r itemstore.Ranking) (bool, error)
	IncrementParticipantCount(ctx context.Context, leaderboardID string) error
}

// Candidate is a scored submission offered for ranking.
type Candidate struct {
	ModelID    string
	Submission *itemstore.Submission
	Stats      itemstore.SubmissionStats
	Score      int64
}

// Reconciler applies keep-best semantics to rankings.
type Reconciler struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// Reconcile creates, replaces, or keeps the candidate's user ranking.
func (r *Reconciler) Reconcile(ctx context.Context, c Candidate) (Decision, error) {
	sub := c.Submission
	if sub == nil {
		return "", errors.New("ranking: submission is required")
	}
	lbID, profileID := sub.LeaderboardID, sub.ProfileID
	log := r.logger.With(zap.String("leaderboard_id", lbID), zap.String("profile_id", profileID))

	current, err := r.store.GetRanking(ctx, lbID, profileID)
	if err != nil && !errors.Is(err, itemstore.ErrNotFound) {
		return "", fmt.Errorf("ranking: load: %w", err)
	}
	profile, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return "", fmt.Errorf("ranking: load profile: %w", err)
	}

	next := itemstore.Ranking{
		LeaderboardID:           lbID,
		ProfileID:               profileID,
		ModelID:                 c.ModelID,
		ModelName:               sub.ModelName,
		SubmissionID:            sub.SubmissionID,
		SubmissionNumber:        sub.SubmissionNumber,
		SubmissionVideoLocation: sub.PrimaryVideoLocation,
		RankingScore:            c.Score,
		Stats:                   c.Stats,
		UserProfile:             itemstore.UserProfile{Alias: profile.Alias, Avatar: profile.Avatar},
	}

	if current == nil {
		created, err := r.store.CreateRanking(ctx, next)
		if err != nil {
			return "", fmt.Errorf("ranking: create: %w", err)
		}
		if created {
			if err := r.store.IncrementParticipantCount(ctx, lbID); err != nil {
				return "", fmt.Errorf("ranking: participant count: %w", err)
			}
			log.Info("created ranking", zap.Int64("ranking_score", c.Score))
			return Created, nil
		}
		// A concurrent finalization created it first; compare against theirs.
		log.Debug("ranking created concurrently, comparing scores")
	} else if c.Score >= current.RankingScore {
		log.Info("ranking score not improved, keeping ranking",
			zap.Int64("submission_ranking_score", c.Score),
			zap.Int64("ranking_score", current.RankingScore),
		)
		return Kept, nil
	}

	replaced, err := r.store.ReplaceRankingIfBetter(ctx, next)
	if err != nil {
		return "", fmt.Errorf("ranking: replace: %w", err)
	}
	if !replaced {
		return Kept, nil
	}
	log.Info("replaced ranking", zap.Int64("ranking_score", c.Score))
	return Replaced, nil
}
