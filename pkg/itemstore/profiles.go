package itemstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) CreateProfile(ctx context.Context, p Profile) error {
	if p.ProfileID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	var reconciled sql.NullString
	if p.UsageReconciledAt != nil {
		reconciled = nullString(formatTime(*p.UsageReconciledAt))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (
			profile_id, alias, avatar, compute_minutes_queued, compute_minutes_used,
			max_total_compute_minutes, model_count, max_model_count, usage_reconciled_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ProfileID, p.Alias, nullString(p.Avatar), p.ComputeMinutesQueued, p.ComputeMinutesUsed,
		nullInt64(p.MaxTotalComputeMinutes), p.ModelCount, nullInt64(p.MaxModelCount), reconciled, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	var (
		p                     Profile
		avatar, reconciled    sql.NullString
		maxMinutes, maxModels sql.NullInt64
		createdAt             string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id, alias, avatar, compute_minutes_queued, compute_minutes_used,
			max_total_compute_minutes, model_count, max_model_count, usage_reconciled_at, created_at
		FROM profiles WHERE profile_id = ?
	`, profileID).Scan(
		&p.ProfileID, &p.Alias, &avatar, &p.ComputeMinutesQueued, &p.ComputeMinutesUsed,
		&maxMinutes, &p.ModelCount, &maxModels, &reconciled, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Avatar = avatar.String
	p.MaxTotalComputeMinutes = int64Ptr(maxMinutes)
	p.MaxModelCount = int64Ptr(maxModels)
	if p.UsageReconciledAt, err = parseNullTime(reconciled); err != nil {
		return nil, fmt.Errorf("parse profile usage_reconciled_at: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse profile created_at: %w", err)
	}
	return &p, nil
}

// ReserveProfileComputeMinutes adds minutes to the profile's queued counter.
func (s *Store) ReserveProfileComputeMinutes(ctx context.Context, profileID string, minutes int64) error {
	if minutes < 0 {
		return fmt.Errorf("reserved minutes must be non-negative, got %d", minutes)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET compute_minutes_queued = compute_minutes_queued + ? WHERE profile_id = ?
	`, minutes, profileID)
	if err != nil {
		return fmt.Errorf("reserve profile minutes: %w", err)
	}
	return expectOne(res, "profile "+profileID)
}

// AddProfileComputeUsage applies d to the profile counters in one statement and
// stamps usage_reconciled_at. A zero delta still stamps the row.
func (s *Store) AddProfileComputeUsage(ctx context.Context, profileID string, d UsageDelta, at time.Time) error {
	if d.QueuedRelease < 0 || d.UsedCharge < 0 {
		return fmt.Errorf("usage delta must be non-negative, got %+v", d)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			compute_minutes_queued = MAX(0, compute_minutes_queued - ?),
			compute_minutes_used = compute_minutes_used + ?,
			usage_reconciled_at = ?
		WHERE profile_id = ?
	`, d.QueuedRelease, d.UsedCharge, formatTime(at), profileID)
	if err != nil {
		return fmt.Errorf("update profile usage: %w", err)
	}
	return expectOne(res, "profile "+profileID)
}
