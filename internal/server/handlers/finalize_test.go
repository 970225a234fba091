package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/internal/runner"
	"github.com/3leaps/trackside/pkg/runjournal"
	"github.com/3leaps/trackside/pkg/workflow"
)

type stubFinalizer struct {
	got runner.Request
	err error
}

func (s *stubFinalizer) Finalize(_ context.Context, req runner.Request) (*runner.Outcome, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	out := req.Context.Clone()
	out.RecordError(errors.New("describe throttled"))
	return &runner.Outcome{Context: out}, nil
}

func TestFinalizeHandler_SagaFailureIsStillOK(t *testing.T) {
	f := &stubFinalizer{}
	h := NewFinalizeHandler(f, nil)

	body := `{"jobName":"j1","jobKind":"EVALUATION","profileId":"p1","modelId":"m1","videoStream":{"arn":"arn:kv:1"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/finalize?force=1", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.got.Force)
	assert.Equal(t, runjournal.SourceHTTP, f.got.Source)
	assert.Equal(t, "arn:kv:1", f.got.Context.VideoStream.Arn)

	var out struct {
		Context workflow.Context `json:"context"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.NotNil(t, out.Context.ErrorDetails)
	assert.Equal(t, "describe throttled", out.Context.ErrorDetails.Message)
}

func TestFinalizeHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"already finalized", runner.ErrAlreadyFinalized, http.StatusConflict},
		{"journal unavailable", errors.New("check run journal: permission denied"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewFinalizeHandler(&stubFinalizer{err: tt.err}, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/finalize",
				strings.NewReader(`{"jobName":"j1","jobKind":"TRAINING","profileId":"p1","modelId":"m1"}`)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
