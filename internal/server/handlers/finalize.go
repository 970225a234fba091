package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/trackside/internal/errors"
	"github.com/3leaps/trackside/internal/runner"
	"github.com/3leaps/trackside/pkg/runjournal"
	"github.com/3leaps/trackside/pkg/workflow"
)

// maxContextBytes bounds the request body of POST /v1/finalize.
const maxContextBytes = 1 << 20

// Finalizer runs one finalization request.
type Finalizer interface {
	Finalize(ctx context.Context, req runner.Request) (*runner.Outcome, error)
}

// FinalizeHandler serves POST /v1/finalize.
type FinalizeHandler struct {
	finalizer Finalizer
	logger    *zap.Logger
}

func NewFinalizeHandler(f Finalizer, logger *zap.Logger) *FinalizeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinalizeHandler{finalizer: f, logger: logger}
}

// ServeHTTP decodes a workflow context, finalizes it, and responds with the
// resulting context and run report. A saga failure is still a 200: the
// failure is on the returned context's errorDetails.
func (h *FinalizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var wc workflow.Context
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContextBytes))
	if err := dec.Decode(&wc); err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("invalid workflow context: "+err.Error()))
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest("invalid force parameter"))
			return
		}
		force = b
	}

	out, err := h.finalizer.Finalize(r.Context(), runner.Request{Context: wc, Source: runjournal.SourceHTTP, Force: force})
	if errors.Is(err, runner.ErrAlreadyFinalized) {
		respondWithError(w, r, apperrors.NewConflict(err.Error()))
		return
	}
	if err != nil {
		h.logger.Warn("finalize request rejected", zap.String("job_name", wc.JobName), zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
