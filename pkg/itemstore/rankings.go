package itemstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) GetRanking(ctx context.Context, leaderboardID, profileID string) (*Ranking, error) {
	var (
		r                       Ranking
		videoLoc, avatar        sql.NullString
		stats, alias, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT leaderboard_id, profile_id, model_id, model_name, submission_id, submission_number,
			submission_video_location, ranking_score, stats, user_alias, user_avatar, updated_at
		FROM rankings WHERE leaderboard_id = ? AND profile_id = ?
	`, leaderboardID, profileID).Scan(
		&r.LeaderboardID, &r.ProfileID, &r.ModelID, &r.ModelName, &r.SubmissionID, &r.SubmissionNumber,
		&videoLoc, &r.RankingScore, &stats, &alias, &avatar, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ranking %s/%s", ErrNotFound, leaderboardID, profileID)
	}
	if err != nil {
		return nil, fmt.Errorf("get ranking: %w", err)
	}
	r.SubmissionVideoLocation = videoLoc.String
	r.UserProfile = UserProfile{Alias: alias, Avatar: avatar.String}
	if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
		return nil, fmt.Errorf("decode ranking stats: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse ranking updated_at: %w", err)
	}
	return &r, nil
}

// CreateRanking inserts r unless a ranking already exists for the same
// (leaderboard, profile). created is false when another writer got there first.
func (s *Store) CreateRanking(ctx context.Context, r Ranking) (created bool, err error) {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return false, fmt.Errorf("encode ranking stats: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rankings (
			leaderboard_id, profile_id, model_id, model_name, submission_id, submission_number,
			submission_video_location, ranking_score, stats, user_alias, user_avatar, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(leaderboard_id, profile_id) DO NOTHING
	`,
		r.LeaderboardID, r.ProfileID, r.ModelID, r.ModelName, r.SubmissionID, r.SubmissionNumber,
		nullString(r.SubmissionVideoLocation), r.RankingScore, string(stats),
		r.UserProfile.Alias, nullString(r.UserProfile.Avatar), formatTime(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert ranking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReplaceRankingIfBetter overwrites the existing ranking only when r's score is
// strictly lower than the stored one. Equal scores keep the stored ranking.
func (s *Store) ReplaceRankingIfBetter(ctx context.Context, r Ranking) (replaced bool, err error) {
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return false, fmt.Errorf("encode ranking stats: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rankings SET
			model_id = ?, model_name = ?, submission_id = ?, submission_number = ?,
			submission_video_location = ?, ranking_score = ?, stats = ?,
			user_alias = ?, user_avatar = ?, updated_at = ?
		WHERE leaderboard_id = ? AND profile_id = ? AND ranking_score > ?
	`,
		r.ModelID, r.ModelName, r.SubmissionID, r.SubmissionNumber,
		nullString(r.SubmissionVideoLocation), r.RankingScore, string(stats),
		r.UserProfile.Alias, nullString(r.UserProfile.Avatar), formatTime(s.now()),
		r.LeaderboardID, r.ProfileID, r.RankingScore,
	)
	if err != nil {
		return false, fmt.Errorf("replace ranking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
