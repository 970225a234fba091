// Package worker carries finalization requests over an asynq (Redis) queue.
package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/3leaps/trackside/pkg/workflow"
)

// TaskTypeFinalize is the asynq task type for one finalization.
const TaskTypeFinalize = "workflow:finalize"

// FinalizePayload is the task body.
type FinalizePayload struct {
	Context workflow.Context `json:"context"`
	Force   bool             `json:"force,omitempty"`
}

// NewFinalizeTask builds a finalize task for wc.
func NewFinalizeTask(wc workflow.Context, force bool) (*asynq.Task, error) {
	data, err := json.Marshal(FinalizePayload{Context: wc, Force: force})
	if err != nil {
		return nil, fmt.Errorf("marshal finalize payload: %w", err)
	}
	return asynq.NewTask(TaskTypeFinalize, data), nil
}

// TaskID derives a stable task id from the job key so the same job is not
// queued twice while a task for it is pending.
func TaskID(wc workflow.Context) string {
	parts := []string{"finalize", wc.ProfileID, wc.ModelID, wc.JobName}
	if wc.LeaderboardID != "" {
		parts = append(parts, wc.LeaderboardID)
	}
	return strings.Join(parts, ":")
}
