package workflow

// Phase names a step of the finalization saga.
type Phase string

const (
	PhaseVideoStream         Phase = "video_stream_cleanup"
	PhaseReconcileStatus     Phase = "reconcile_status"
	PhaseArchiveLogs         Phase = "archive_logs"
	PhaseLedger              Phase = "ledger"
	PhaseReadJob             Phase = "read_job"
	PhaseEvaluationMetrics   Phase = "persist_evaluation_metrics"
	PhaseSubmissionStats     Phase = "persist_submission_stats"
	PhaseRankingStats        Phase = "persist_ranking_stats"
	PhasePersistModel        Phase = "persist_model"
	PhasePersistJob          Phase = "persist_job"
	PhaseFinalizeJob         Phase = "finalize_job"
	PhasePersistWorkflowData Phase = "persist_workflow_data"
)

// Result is the outcome of a single phase.
//
// Phases that swallow their own failure (log archival) still report it here
// so callers can observe degraded runs; Swallowed marks those.
type Result struct {
	Phase     Phase  `json:"phase"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Swallowed bool   `json:"swallowed,omitempty"`
}

// OK returns a successful result for phase.
func OK(phase Phase) Result {
	return Result{Phase: phase}
}

// Skip returns a result for a phase that did not need to run.
func Skip(phase Phase) Result {
	return Result{Phase: phase, Skipped: true}
}

// Fail returns a failed result for phase.
func Fail(phase Phase, err error) Result {
	r := Result{Phase: phase, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Failed reports whether the phase produced an error.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Results accumulates phase outcomes in execution order.
type Results []Result

// Add appends r and returns it for chaining.
func (rs *Results) Add(r Result) Result {
	*rs = append(*rs, r)
	return r
}

// FirstError returns the first non-swallowed failure, if any.
func (rs Results) FirstError() error {
	for _, r := range rs {
		if r.Err != nil && !r.Swallowed {
			return r.Err
		}
	}
	return nil
}

// Succeeded reports whether phase ran without error. It reads the error
// string so it also holds for results decoded from JSON.
func (rs Results) Succeeded(phase Phase) bool {
	for _, r := range rs {
		if r.Phase == phase && !r.Skipped && r.Err == nil && r.Error == "" {
			return true
		}
	}
	return false
}

// Apply records every non-swallowed failure on c. Only the first one sticks.
func (rs Results) Apply(c *Context) {
	for _, r := range rs {
		if r.Err != nil && !r.Swallowed {
			c.RecordError(r.Err)
		}
	}
}
