package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/workflow"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"http error passes through", NewConflict("busy"), http.StatusConflict, CodeConflict},
		{"validation", &workflow.ValidationError{Fields: workflow.FieldErrors{"jobName": "required"}}, http.StatusBadRequest, CodeValidation},
		{"not found", fmt.Errorf("job: %w", itemstore.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"anything else", assert.AnError, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, he.Status)
			assert.Equal(t, tt.wantCode, he.Code)
		})
	}
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/finalize", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &workflow.ValidationError{Fields: workflow.FieldErrors{"modelId": "required"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Code      string         `json:"code"`
			Message   string         `json:"message"`
			Details   map[string]any `json:"details"`
			RequestID string         `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeValidation, body.Error.Code)
	assert.Equal(t, "req-1", body.Error.RequestID)
	fields, ok := body.Error.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", fields["modelId"])
}

func TestHTTPError_Envelope(t *testing.T) {
	he := NewNotFound("job not found").WithDetails(map[string]any{"jobName": "j-1"})
	he.RequestID = "req-9"

	env := he.Envelope()
	require.NotNil(t, env)
	assert.Equal(t, CodeNotFound, env.Code)
	assert.Equal(t, "job not found", env.Message)

	back := FromEnvelope(http.StatusNotFound, env)
	assert.Equal(t, http.StatusNotFound, back.Status)
	assert.Equal(t, CodeNotFound, back.Code)
	assert.Equal(t, "req-9", back.RequestID)
	assert.Equal(t, "j-1", back.Details["jobName"])
}

func TestFromEnvelope_Nil(t *testing.T) {
	he := FromEnvelope(http.StatusTeapot, nil)
	assert.Equal(t, http.StatusInternalServerError, he.Status)
	assert.Equal(t, CodeInternal, he.Code)
}
