package itemstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const submissionColumns = `leaderboard_id, profile_id, submission_id, job_name, submission_number,
	model_id, model_name, metrics_location, primary_video_location, stats, ranking_score, created_at`

func (s *Store) CreateSubmission(ctx context.Context, sub Submission) error {
	if sub.LeaderboardID == "" || sub.ProfileID == "" || sub.SubmissionID == "" || sub.JobName == "" {
		return fmt.Errorf("leaderboard id, profile id, submission id and job name are required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	stats, err := encodeStats(sub.Stats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.LeaderboardID, sub.ProfileID, sub.SubmissionID, sub.JobName, sub.SubmissionNumber,
		sub.ModelID, sub.ModelName, nullString(sub.MetricsLocation), nullString(sub.PrimaryVideoLocation),
		stats, nullInt64(sub.RankingScore), formatTime(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, key SubmissionKey) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions WHERE leaderboard_id = ? AND profile_id = ? AND submission_id = ?
	`, key.LeaderboardID, key.ProfileID, key.SubmissionID)
	return scanSubmission(row, "submission "+key.SubmissionID)
}

// GetSubmissionByJob finds the submission created for a submission job.
func (s *Store) GetSubmissionByJob(ctx context.Context, leaderboardID, profileID, jobName string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions WHERE leaderboard_id = ? AND profile_id = ? AND job_name = ?
	`, leaderboardID, profileID, jobName)
	return scanSubmission(row, "submission for job "+jobName)
}

// UpdateSubmissionPerformance writes stats and the ranking score. A nil score
// is stored as NULL (the submission produced no valid score).
func (s *Store) UpdateSubmissionPerformance(ctx context.Context, key SubmissionKey, stats SubmissionStats, score *int64) error {
	encoded, err := encodeStats(&stats)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET stats = ?, ranking_score = ?
		WHERE leaderboard_id = ? AND profile_id = ? AND submission_id = ?
	`, encoded, nullInt64(score), key.LeaderboardID, key.ProfileID, key.SubmissionID)
	if err != nil {
		return fmt.Errorf("update submission performance: %w", err)
	}
	return expectOne(res, "submission "+key.SubmissionID)
}

func scanSubmission(row *sql.Row, what string) (*Submission, error) {
	var (
		sub                         Submission
		metricsLoc, videoLoc, stats sql.NullString
		score                       sql.NullInt64
		createdAt                   string
	)
	err := row.Scan(&sub.LeaderboardID, &sub.ProfileID, &sub.SubmissionID, &sub.JobName, &sub.SubmissionNumber,
		&sub.ModelID, &sub.ModelName, &metricsLoc, &videoLoc, &stats, &score, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	sub.MetricsLocation = metricsLoc.String
	sub.PrimaryVideoLocation = videoLoc.String
	sub.RankingScore = int64Ptr(score)
	if stats.Valid && stats.String != "" {
		sub.Stats = &SubmissionStats{}
		if err := json.Unmarshal([]byte(stats.String), sub.Stats); err != nil {
			return nil, fmt.Errorf("decode submission stats: %w", err)
		}
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse submission created_at: %w", err)
	}
	return &sub, nil
}

func encodeStats(stats *SubmissionStats) (sql.NullString, error) {
	if stats == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode submission stats: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
