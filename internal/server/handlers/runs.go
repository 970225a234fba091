package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/trackside/internal/errors"
	"github.com/3leaps/trackside/pkg/runjournal"
)

// RunLister reads the run journal.
type RunLister interface {
	List() ([]runjournal.RunRecord, error)
	Get(runID string) (*runjournal.RunRecord, error)
}

// RunsHandler serves the run journal read endpoints.
type RunsHandler struct {
	runs RunLister
}

func NewRunsHandler(runs RunLister) *RunsHandler {
	return &RunsHandler{runs: runs}
}

// List serves GET /v1/runs, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if runs == nil {
		runs = []runjournal.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Get serves GET /v1/runs/{runID}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	rec, err := h.runs.Get(id)
	if errors.Is(err, runjournal.ErrNotFound) {
		respondWithError(w, r, apperrors.NewNotFound("run not found: "+id))
		return
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
