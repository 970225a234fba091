package itemstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnsureAccountUsage creates the (year, month) aggregate row if it is missing.
// Concurrent callers race safely; the loser's insert is a no-op.
func (s *Store) EnsureAccountUsage(ctx context.Context, year, month int) error {
	if err := validMonth(year, month); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_resource_usage (year, month, compute_minutes_queued, compute_minutes_used, updated_at)
		VALUES (?, ?, 0, 0, ?)
		ON CONFLICT(year, month) DO NOTHING
	`, year, month, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("ensure account usage: %w", err)
	}
	return nil
}

func (s *Store) GetAccountUsage(ctx context.Context, year, month int) (*AccountResourceUsage, error) {
	var (
		u         AccountResourceUsage
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT year, month, compute_minutes_queued, compute_minutes_used, updated_at
		FROM account_resource_usage WHERE year = ? AND month = ?
	`, year, month).Scan(&u.Year, &u.Month, &u.ComputeMinutesQueued, &u.ComputeMinutesUsed, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account usage %04d-%02d", ErrNotFound, year, month)
	}
	if err != nil {
		return nil, fmt.Errorf("get account usage: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse account usage updated_at: %w", err)
	}
	return &u, nil
}

// ReserveAccountComputeMinutes adds minutes to the month's queued counter,
// creating the row first when needed.
func (s *Store) ReserveAccountComputeMinutes(ctx context.Context, year, month int, minutes int64) error {
	if minutes < 0 {
		return fmt.Errorf("reserved minutes must be non-negative, got %d", minutes)
	}
	if err := s.EnsureAccountUsage(ctx, year, month); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE account_resource_usage
		SET compute_minutes_queued = compute_minutes_queued + ?, updated_at = ?
		WHERE year = ? AND month = ?
	`, minutes, formatTime(s.now()), year, month)
	if err != nil {
		return fmt.Errorf("reserve account minutes: %w", err)
	}
	return nil
}

// AddAccountComputeUsage applies d to the month's aggregate in one statement.
// The row must exist (see EnsureAccountUsage).
func (s *Store) AddAccountComputeUsage(ctx context.Context, year, month int, d UsageDelta) error {
	if d.QueuedRelease < 0 || d.UsedCharge < 0 {
		return fmt.Errorf("usage delta must be non-negative, got %+v", d)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_resource_usage SET
			compute_minutes_queued = MAX(0, compute_minutes_queued - ?),
			compute_minutes_used = compute_minutes_used + ?,
			updated_at = ?
		WHERE year = ? AND month = ?
	`, d.QueuedRelease, d.UsedCharge, formatTime(s.now()), year, month)
	if err != nil {
		return fmt.Errorf("update account usage: %w", err)
	}
	return expectOne(res, fmt.Sprintf("account usage %04d-%02d", year, month))
}

func validMonth(year, month int) error {
	if year < 1970 || month < 1 || month > 12 {
		return fmt.Errorf("invalid usage period %d-%d", year, month)
	}
	return nil
}
