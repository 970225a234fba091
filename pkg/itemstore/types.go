package itemstore

import (
	"time"

	"github.com/3leaps/trackside/pkg/workflow"
)

// JobStatus is the lifecycle state of a job record.
//
// NOTE: These values are persisted and exposed through the public API.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "QUEUED"
	JobStatusInitializing JobStatus = "INITIALIZING"
	JobStatusInProgress   JobStatus = "IN_PROGRESS"
	JobStatusCompleted    JobStatus = "COMPLETED"
	JobStatusFailed       JobStatus = "FAILED"
	JobStatusCanceled     JobStatus = "CANCELED"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// ModelStatus is the lifecycle state of a model record.
type ModelStatus string

const (
	ModelStatusQueued     ModelStatus = "QUEUED"
	ModelStatusTraining   ModelStatus = "TRAINING"
	ModelStatusEvaluating ModelStatus = "EVALUATING"
	ModelStatusReady      ModelStatus = "READY"
	ModelStatusError      ModelStatus = "ERROR"
)

// TimingMethod selects how a submission's ranking score is derived.
type TimingMethod string

const (
	TimingTotalTime   TimingMethod = "TOTAL_TIME"
	TimingAvgLapTime  TimingMethod = "AVG_LAP_TIME"
	TimingBestLapTime TimingMethod = "BEST_LAP_TIME"
)

// EvaluationMetric is one trial (lap attempt) of an evaluation or submission run.
type EvaluationMetric struct {
	Trial                     int     `json:"trial"`
	CompletionPercentage      float64 `json:"completionPercentage"`
	ElapsedTimeInMilliseconds int64   `json:"elapsedTimeInMilliseconds"`
	EpisodeStatus             string  `json:"episodeStatus,omitempty"`
	CrashCount                int64   `json:"crashCount"`
	OffTrackCount             int64   `json:"offTrackCount"`
	ResetCount                int64   `json:"resetCount"`
}

// SubmissionStats aggregates a submission's lap metrics. Times are milliseconds.
type SubmissionStats struct {
	CompletedLapCount int     `json:"completedLapCount"`
	BestLapTime       int64   `json:"bestLapTime"`
	AvgLapTime        int64   `json:"avgLapTime"`
	TotalLapTime      int64   `json:"totalLapTime"`
	ResetCount        int64   `json:"resetCount"`
	AvgResets         float64 `json:"avgResets"`
	CollisionCount    int64   `json:"collisionCount"`
	OffTrackCount     int64   `json:"offTrackCount"`
}

// UserProfile is the denormalized display snapshot stored on a ranking.
type UserProfile struct {
	Alias  string `json:"alias"`
	Avatar string `json:"avatar,omitempty"`
}

// JobKey identifies a job record. LeaderboardID is only set for submissions.
type JobKey struct {
	JobName       string
	ModelID       string
	ProfileID     string
	LeaderboardID string
}

// JobKeyFor returns the key of the job record wc describes.
func JobKeyFor(wc *workflow.Context) JobKey {
	return JobKey{
		JobName:       wc.JobName,
		ModelID:       wc.ModelID,
		ProfileID:     wc.ProfileID,
		LeaderboardID: wc.LeaderboardID,
	}
}

type Job struct {
	JobKey
	Kind                   workflow.JobKind
	Status                 JobStatus
	TrainingLogsLocation   string
	SimulationLogsLocation string
	MetricsLocation        string
	VideoStreamURL         string
	EvaluationMetrics      []EvaluationMetric
	CreatedAt              time.Time
	EndTime                *time.Time
}

// JobUpdate names the job fields to change; nil fields are left untouched.
type JobUpdate struct {
	Status                 *JobStatus
	EndTime                *time.Time
	TrainingLogsLocation   *string
	SimulationLogsLocation *string
	EvaluationMetrics      *[]EvaluationMetric
	ClearVideoStreamURL    bool
}

// ModelKey identifies a model record.
type ModelKey struct {
	ModelID   string
	ProfileID string
}

type Model struct {
	ModelKey
	Name             string
	Status           ModelStatus
	ArtifactLocation string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ModelUpdate names the model fields to change; nil fields are left untouched.
type ModelUpdate struct {
	Status           *ModelStatus
	ArtifactLocation *string
}

type Profile struct {
	ProfileID              string
	Alias                  string
	Avatar                 string
	ComputeMinutesQueued   int64
	ComputeMinutesUsed     int64
	MaxTotalComputeMinutes *int64
	ModelCount             int64
	MaxModelCount          *int64
	UsageReconciledAt      *time.Time
	CreatedAt              time.Time
}

// AccountResourceUsage is the account-wide compute aggregate for one month.
type AccountResourceUsage struct {
	Year                 int
	Month                int
	ComputeMinutesQueued int64
	ComputeMinutesUsed   int64
	UpdatedAt            time.Time
}

// UsageDelta is a relative change to a pair of compute counters.
// QueuedRelease is subtracted from the queued counter (clamped at zero) and
// UsedCharge is added to the used counter.
type UsageDelta struct {
	QueuedRelease int64
	UsedCharge    int64
}

// Zero reports whether applying d would change nothing.
func (d UsageDelta) Zero() bool {
	return d.QueuedRelease == 0 && d.UsedCharge == 0
}

type Leaderboard struct {
	LeaderboardID    string
	Name             string
	MinimumLaps      int
	TimingMethod     TimingMethod
	ParticipantCount int64
	CreatedAt        time.Time
}

// SubmissionKey identifies a submission record.
type SubmissionKey struct {
	LeaderboardID string
	ProfileID     string
	SubmissionID  string
}

type Submission struct {
	SubmissionKey
	JobName              string
	SubmissionNumber     int
	ModelID              string
	ModelName            string
	MetricsLocation      string
	PrimaryVideoLocation string
	Stats                *SubmissionStats
	RankingScore         *int64
	CreatedAt            time.Time
}

// Ranking is a user's best qualifying submission on a leaderboard.
type Ranking struct {
	LeaderboardID           string
	ProfileID               string
	ModelID                 string
	ModelName               string
	SubmissionID            string
	SubmissionNumber        int
	SubmissionVideoLocation string
	RankingScore            int64
	Stats                   SubmissionStats
	UserProfile             UserProfile
	UpdatedAt               time.Time
}
