package ranking

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/itemstore"
)

func openStore(t *testing.T) *itemstore.Store {
	t.Helper()
	s, err := itemstore.Open(context.Background(), itemstore.Config{Path: filepath.Join(t.TempDir(), "items.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *itemstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateProfile(ctx, itemstore.Profile{ProfileID: "p1", Alias: "speedy", Avatar: "car.png"}))
	require.NoError(t, s.CreateLeaderboard(ctx, itemstore.Leaderboard{
		LeaderboardID: "lb1", Name: "Spring Cup", MinimumLaps: 2, TimingMethod: itemstore.TimingAvgLapTime,
	}))
}

func candidate(id string, score int64) Candidate {
	return Candidate{
		ModelID: "model-" + id,
		Submission: &itemstore.Submission{
			SubmissionKey:        itemstore.SubmissionKey{LeaderboardID: "lb1", ProfileID: "p1", SubmissionID: id},
			ModelName:            "model " + id,
			PrimaryVideoLocation: "s3://models/" + id + ".mp4",
		},
		Stats: itemstore.SubmissionStats{CompletedLapCount: 2, AvgLapTime: score},
		Score: score,
	}
}

func participants(t *testing.T, s *itemstore.Store) int64 {
	t.Helper()
	lb, err := s.GetLeaderboard(context.Background(), "lb1")
	require.NoError(t, err)
	return lb.ParticipantCount
}

func TestReconcile_KeepBestSequence(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s)
	r := New(s, nil)

	d, err := r.Reconcile(ctx, candidate("B", 5000))
	require.NoError(t, err)
	assert.Equal(t, Created, d)
	assert.Equal(t, int64(1), participants(t, s))

	d, err = r.Reconcile(ctx, candidate("C", 4800))
	require.NoError(t, err)
	assert.Equal(t, Replaced, d)
	assert.Equal(t, int64(1), participants(t, s))

	d, err = r.Reconcile(ctx, candidate("D", 5200))
	require.NoError(t, err)
	assert.Equal(t, Kept, d)

	d, err = r.Reconcile(ctx, candidate("E", 4800))
	require.NoError(t, err)
	assert.Equal(t, Kept, d, "ties keep the existing ranking")

	got, err := s.GetRanking(ctx, "lb1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(4800), got.RankingScore)
	assert.Equal(t, "C", got.SubmissionID)
	assert.Equal(t, "model-C", got.ModelID)
	assert.Equal(t, "s3://models/C.mp4", got.SubmissionVideoLocation)
	assert.Equal(t, itemstore.UserProfile{Alias: "speedy", Avatar: "car.png"}, got.UserProfile)
	assert.Equal(t, int64(1), participants(t, s))
}

// racingStore reports no ranking on read but loses the create race.
type racingStore struct {
	*itemstore.Store
}

func (r racingStore) GetRanking(context.Context, string, string) (*itemstore.Ranking, error) {
	return nil, itemstore.ErrNotFound
}

func TestReconcile_LostCreateRaceFallsThroughToReplace(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s)
	r := New(s, nil)

	_, err := r.Reconcile(ctx, candidate("first", 6000))
	require.NoError(t, err)

	d, err := New(racingStore{s}, nil).Reconcile(ctx, candidate("second", 5500))
	require.NoError(t, err)
	assert.Equal(t, Replaced, d)
	assert.Equal(t, int64(1), participants(t, s), "participant counted once")

	d, err = New(racingStore{s}, nil).Reconcile(ctx, candidate("third", 9000))
	require.NoError(t, err)
	assert.Equal(t, Kept, d)
}

type failingStore struct {
	racingStore
	err error
}

func (f failingStore) GetProfile(context.Context, string) (*itemstore.Profile, error) {
	return nil, f.err
}

func TestReconcile_Errors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	seed(t, s)

	_, err := New(s, nil).Reconcile(ctx, Candidate{Score: 1})
	assert.Error(t, err)

	cause := errors.New("throttled")
	_, err = New(failingStore{racingStore{s}, cause}, nil).Reconcile(ctx, candidate("x", 1))
	assert.ErrorIs(t, err, cause)

	_, err = s.GetRanking(ctx, "lb1", "p1")
	assert.ErrorIs(t, err, itemstore.ErrNotFound, "nothing written on error")
}
