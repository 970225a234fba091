package runjournal

import (
	"time"

	"github.com/3leaps/trackside/pkg/finalizer"
	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/ledger"
	"github.com/3leaps/trackside/pkg/workflow"
)

// RunState is the lifecycle state of a finalization run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStatePersisted RunState = "persisted"
	RunStateCanceled  RunState = "canceled"
	RunStateFailed    RunState = "failed"
)

// Source names what triggered a run.
type Source string

const (
	SourceCLI    Source = "cli"
	SourceHTTP   Source = "http"
	SourceWorker Source = "worker"
)

// RunRecord is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type RunRecord struct {
	RunID         string           `json:"run_id"`
	JobName       string           `json:"job_name"`
	JobKind       workflow.JobKind `json:"job_kind"`
	ProfileID     string           `json:"profile_id"`
	ModelID       string           `json:"model_id"`
	LeaderboardID string           `json:"leaderboard_id,omitempty"`
	Source        Source           `json:"source,omitempty"`
	State         RunState         `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`

	EndedAt   *time.Time          `json:"ended_at,omitempty"`
	JobStatus itemstore.JobStatus `json:"job_status,omitempty"`
	Charge    *ledger.Charge      `json:"charge,omitempty"`
	Phases    workflow.Results    `json:"phases,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Complete fills the outcome fields from a finished run.
func (r *RunRecord) Complete(out workflow.Context, rep *finalizer.Report, at time.Time) {
	end := at.UTC()
	r.EndedAt = &end
	if rep != nil {
		r.Phases = rep.Results
		r.JobStatus = rep.Status
		charge := rep.Charge
		r.Charge = &charge
	}
	if out.ErrorDetails != nil {
		r.Error = out.ErrorDetails.Message
	}

	switch {
	case rep != nil && rep.Canceled:
		r.State = RunStateCanceled
	case rep != nil && rep.Status != "":
		r.State = RunStatePersisted
	default:
		r.State = RunStateFailed
	}
}

// LedgerApplied reports whether this run charged the usage ledger.
func (r *RunRecord) LedgerApplied() bool {
	return r.Phases.Succeeded(workflow.PhaseLedger)
}
