// Package ledger converts a finished job's runtime into compute-minute
// deltas and applies them to the monthly account aggregate and the owning
// profile.
//
// Both scopes carry two counters: minutes queued (reserved when the job was
// dispatched) and minutes used (charged). Finalizing a job moves the used
// part of its reservation from queued to used and releases the rest.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/trackside/pkg/itemstore"
)

// Rounding selects how partial minutes are charged.
type Rounding string

const (
	RoundCeil  Rounding = "ceil"
	RoundFloor Rounding = "floor"
)

// ParseRounding accepts "ceil" or "floor" (case-insensitive). Empty means ceil.
func ParseRounding(s string) (Rounding, error) {
	switch Rounding(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoundCeil:
		return RoundCeil, nil
	case RoundFloor:
		return RoundFloor, nil
	default:
		return "", fmt.Errorf("invalid ledger rounding %q (want ceil or floor)", s)
	}
}

// Minutes converts seconds to whole minutes. Negative input counts as zero.
func (r Rounding) Minutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	if r == RoundFloor {
		return seconds / 60
	}
	return (seconds + 59) / 60
}

// Charge is the accounting outcome for one job.
type Charge struct {
	// MinutesUsed is the billable runtime.
	MinutesUsed int64 `json:"minutesUsed"`
	// MinutesReleased is the unused remainder of the reservation.
	MinutesReleased int64 `json:"minutesReleased"`
	// MinutesReserved is the rounded maximum runtime, zero when none was configured.
	MinutesReserved int64 `json:"minutesReserved"`
	// Forced marks a job that had to be stopped during finalization.
	Forced bool `json:"forced,omitempty"`
}

// Compute derives the charge for a job that ran elapsedSeconds against an
// optional maximum runtime. A forced stop charges and releases nothing.
func Compute(r Rounding, elapsedSeconds int64, maxRuntimeSeconds *int64, forced bool) Charge {
	if forced {
		return Charge{Forced: true}
	}
	c := Charge{MinutesUsed: r.Minutes(elapsedSeconds)}
	if maxRuntimeSeconds == nil {
		return c
	}
	c.MinutesReserved = r.Minutes(*maxRuntimeSeconds)
	if c.MinutesUsed > c.MinutesReserved && c.MinutesReserved > 0 {
		c.MinutesUsed = c.MinutesReserved
	}
	c.MinutesReleased = max(0, c.MinutesReserved-c.MinutesUsed)
	return c
}

// Delta returns the counter change for c. The whole reservation leaves the
// queued counter: the used part is charged and the remainder released.
func (c Charge) Delta() itemstore.UsageDelta {
	if c.Forced {
		return itemstore.UsageDelta{}
	}
	d := itemstore.UsageDelta{UsedCharge: c.MinutesUsed}
	if c.MinutesReserved > 0 {
		d.QueuedRelease = c.MinutesUsed + c.MinutesReleased
	}
	return d
}

// Store is the item-store subset the ledger writes to.
type Store interface {
	EnsureAccountUsage(ctx context.Context, year, month int) error
	AddAccountComputeUsage(ctx context.Context, year, month int, d itemstore.UsageDelta) error
	GetProfile(ctx context.Context, profileID string) (*itemstore.Profile, error)
	AddProfileComputeUsage(ctx context.Context, profileID string, d itemstore.UsageDelta, at time.Time) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRounding sets the minute rounding policy.
func WithRounding(r Rounding) Option {
	return func(l *Ledger) {
		if r != "" {
			l.rounding = r
		}
	}
}

// WithClock overrides the clock used to pick the accounting month.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Ledger applies charges to the store.
type Ledger struct {
	store    Store
	rounding Rounding
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Ledger with ceiling rounding and the UTC wall clock.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		rounding: RoundCeil,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Rounding reports the configured rounding policy.
func (l *Ledger) Rounding() Rounding {
	return l.rounding
}

// Compute derives a charge with the ledger's rounding policy.
func (l *Ledger) Compute(elapsedSeconds int64, maxRuntimeSeconds *int64, forced bool) Charge {
	return Compute(l.rounding, elapsedSeconds, maxRuntimeSeconds, forced)
}

// Apply records c against the current month's aggregate and the profile.
//
// A forced charge skips the aggregate entirely; the profile is still
// written with a zero delta so its reconciliation timestamp advances.
func (l *Ledger) Apply(ctx context.Context, profileID string, c Charge) error {
	now := l.now().UTC()
	year, month := now.Year(), int(now.Month())
	delta := c.Delta()

	if !c.Forced {
		if err := l.store.EnsureAccountUsage(ctx, year, month); err != nil {
			return fmt.Errorf("ledger: account usage %04d-%02d: %w", year, month, err)
		}
		if err := l.store.AddAccountComputeUsage(ctx, year, month, delta); err != nil {
			return fmt.Errorf("ledger: account usage %04d-%02d: %w", year, month, err)
		}
	}

	if _, err := l.store.GetProfile(ctx, profileID); err != nil {
		return fmt.Errorf("ledger: profile %s: %w", profileID, err)
	}
	if err := l.store.AddProfileComputeUsage(ctx, profileID, delta, now); err != nil {
		return fmt.Errorf("ledger: profile %s: %w", profileID, err)
	}

	l.logger.Info("applied compute usage",
		zap.String("profile_id", profileID),
		zap.Int64("minutes_used", c.MinutesUsed),
		zap.Int64("minutes_released", c.MinutesReleased),
		zap.Bool("forced", c.Forced),
	)
	return nil
}
