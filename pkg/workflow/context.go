// Package workflow defines the unit of work passed between finalization phases.
//
// A Context is produced by the surrounding workflow orchestrator (out of
// process) and handed to the finalizer once the underlying training job has
// reached a terminal or stuck state. The finalizer mutates it in place and
// returns it; the JSON shape is the wire contract with the orchestrator.
package workflow

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// JobKind tags which kind of job a Context describes.
//
// NOTE: These values are persisted on job records and travel over the wire.
type JobKind string

const (
	JobKindTraining   JobKind = "TRAINING"
	JobKindEvaluation JobKind = "EVALUATION"
	JobKindSubmission JobKind = "SUBMISSION"
)

// Valid reports whether k is one of the known job kinds.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindTraining, JobKindEvaluation, JobKindSubmission:
		return true
	default:
		return false
	}
}

// Lower returns the lowercase form used in object storage paths.
func (k JobKind) Lower() string {
	return strings.ToLower(string(k))
}

// TrainingJobStatus is the execution service's view of a training job.
type TrainingJobStatus string

const (
	TrainingJobInProgress TrainingJobStatus = "InProgress"
	TrainingJobCompleted  TrainingJobStatus = "Completed"
	TrainingJobFailed     TrainingJobStatus = "Failed"
	TrainingJobStopping   TrainingJobStatus = "Stopping"
	TrainingJobStopped    TrainingJobStatus = "Stopped"
)

// Terminal reports whether the status will not change any further.
// An empty status is treated as non-terminal.
func (s TrainingJobStatus) Terminal() bool {
	switch s {
	case TrainingJobCompleted, TrainingJobFailed, TrainingJobStopped:
		return true
	default:
		return false
	}
}

// ProducedArtifacts reports whether a job in this status leaves a usable
// model artifact behind.
func (s TrainingJobStatus) ProducedArtifacts() bool {
	return s == TrainingJobCompleted || s == TrainingJobStopped
}

// SimulationJob describes the simulation side of a job.
type SimulationJob struct {
	HeartbeatS3Location string `json:"heartbeatS3Location,omitempty" yaml:"heartbeatS3Location,omitempty"`
}

// TrainingJob describes the execution-service job backing a workflow.
type TrainingJob struct {
	Name                    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Arn                     string            `json:"arn,omitempty" yaml:"arn,omitempty"`
	Status                  TrainingJobStatus `json:"status,omitempty" yaml:"status,omitempty"`
	ModelArtifactS3Location string            `json:"modelArtifactS3Location,omitempty" yaml:"modelArtifactS3Location,omitempty"`
}

// VideoStream describes the live video stream attached to a job.
type VideoStream struct {
	Arn  string `json:"arn,omitempty" yaml:"arn,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ErrorDetails is the serialized failure attached to a Context.
type ErrorDetails struct {
	Message string `json:"message" yaml:"message"`
	Stack   string `json:"stack,omitempty" yaml:"stack,omitempty"`
}

// Context is the unit of work threaded through every finalization phase.
type Context struct {
	JobName       string  `json:"jobName" yaml:"jobName" validate:"required"`
	JobKind       JobKind `json:"jobKind" yaml:"jobKind" validate:"required,oneof=TRAINING EVALUATION SUBMISSION"`
	ProfileID     string  `json:"profileId" yaml:"profileId" validate:"required"`
	ModelID       string  `json:"modelId" yaml:"modelId" validate:"required"`
	LeaderboardID string  `json:"leaderboardId,omitempty" yaml:"leaderboardId,omitempty" validate:"required_if=JobKind SUBMISSION"`

	SimulationJob *SimulationJob `json:"simulationJob,omitempty" yaml:"simulationJob,omitempty"`
	TrainingJob   *TrainingJob   `json:"trainingJob,omitempty" yaml:"trainingJob,omitempty"`
	VideoStream   *VideoStream   `json:"videoStream,omitempty" yaml:"videoStream,omitempty"`

	ErrorDetails *ErrorDetails `json:"errorDetails,omitempty" yaml:"errorDetails,omitempty"`
}

// Failed reports whether any phase has recorded an error.
func (c *Context) Failed() bool {
	return c != nil && c.ErrorDetails != nil
}

// RecordError attaches err as the context's error details unless an earlier
// failure is already recorded. It returns true when err was recorded.
func (c *Context) RecordError(err error) bool {
	if c == nil || err == nil || c.ErrorDetails != nil {
		return false
	}
	c.ErrorDetails = &ErrorDetails{
		Message: err.Error(),
		Stack:   string(debug.Stack()),
	}
	return true
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	if c.SimulationJob != nil {
		v := *c.SimulationJob
		out.SimulationJob = &v
	}
	if c.TrainingJob != nil {
		v := *c.TrainingJob
		out.TrainingJob = &v
	}
	if c.VideoStream != nil {
		v := *c.VideoStream
		out.VideoStream = &v
	}
	if c.ErrorDetails != nil {
		v := *c.ErrorDetails
		out.ErrorDetails = &v
	}
	return out
}

// String returns a short identifier for log lines.
func (c *Context) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.LeaderboardID != "" {
		return fmt.Sprintf("%s/%s (model=%s leaderboard=%s)", c.JobKind, c.JobName, c.ModelID, c.LeaderboardID)
	}
	return fmt.Sprintf("%s/%s (model=%s)", c.JobKind, c.JobName, c.ModelID)
}
