package itemstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) CreateLeaderboard(ctx context.Context, lb Leaderboard) error {
	if lb.LeaderboardID == "" {
		return fmt.Errorf("leaderboard id is required")
	}
	if lb.MinimumLaps < 1 {
		return fmt.Errorf("minimum laps must be at least 1, got %d", lb.MinimumLaps)
	}
	switch lb.TimingMethod {
	case TimingTotalTime, TimingAvgLapTime, TimingBestLapTime:
	default:
		return fmt.Errorf("unknown timing method %q", lb.TimingMethod)
	}
	if lb.CreatedAt.IsZero() {
		lb.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboards (leaderboard_id, name, minimum_laps, timing_method, participant_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, lb.LeaderboardID, lb.Name, lb.MinimumLaps, string(lb.TimingMethod), lb.ParticipantCount, formatTime(lb.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert leaderboard: %w", err)
	}
	return nil
}

func (s *Store) GetLeaderboard(ctx context.Context, leaderboardID string) (*Leaderboard, error) {
	var (
		lb                Leaderboard
		method, createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT leaderboard_id, name, minimum_laps, timing_method, participant_count, created_at
		FROM leaderboards WHERE leaderboard_id = ?
	`, leaderboardID).Scan(&lb.LeaderboardID, &lb.Name, &lb.MinimumLaps, &method, &lb.ParticipantCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: leaderboard %s", ErrNotFound, leaderboardID)
	}
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	lb.TimingMethod = TimingMethod(method)
	if lb.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse leaderboard created_at: %w", err)
	}
	return &lb, nil
}

// IncrementParticipantCount adds one participant to the leaderboard.
func (s *Store) IncrementParticipantCount(ctx context.Context, leaderboardID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leaderboards SET participant_count = participant_count + 1 WHERE leaderboard_id = ?
	`, leaderboardID)
	if err != nil {
		return fmt.Errorf("increment participant count: %w", err)
	}
	return expectOne(res, "leaderboard "+leaderboardID)
}
