// Package errors maps application errors onto the gofulmen error envelope
// and writes it as {"error": {"code", "message", "details"}}.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/workflow"
)

// Error codes used in responses.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPError is an error with a status code and a stable code string.
type HTTPError struct {
	Status    int            `json:"-"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Err       error          `json:"-"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// HTTPErrorResponse is the response body for every error.
type HTTPErrorResponse struct {
	Error *HTTPError `json:"error"`
}

// New creates an HTTPError.
func New(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// WithDetails returns e with details attached.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	e.Details = details
	return e
}

func NewBadRequest(message string) *HTTPError {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func NewNotFound(message string) *HTTPError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func NewConflict(message string) *HTTPError {
	return New(http.StatusConflict, CodeConflict, message)
}

func NewInternal(message string) *HTTPError {
	return New(http.StatusInternalServerError, CodeInternal, message)
}

// FromError classifies err.
func FromError(err error) *HTTPError {
	var he *HTTPError
	if stderrors.As(err, &he) {
		return he
	}
	var verr *workflow.ValidationError
	if stderrors.As(err, &verr) {
		details := make(map[string]any, len(verr.Fields))
		for f, rule := range verr.Fields {
			details[f] = rule
		}
		return &HTTPError{
			Status:  http.StatusBadRequest,
			Code:    CodeValidation,
			Message: "invalid workflow context",
			Details: map[string]any{"fields": details},
			Err:     err,
		}
	}
	if stderrors.Is(err, itemstore.ErrNotFound) {
		return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Err: err}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: err.Error(), Err: err}
}

// Envelope converts he into a gofulmen error envelope. The request ID
// travels as the correlation ID and details as the envelope context.
func (e *HTTPError) Envelope() *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if e.RequestID != "" {
		env = env.WithCorrelationID(e.RequestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// FromEnvelope builds the wire form of env for the given status.
func FromEnvelope(status int, env *gferrors.ErrorEnvelope) *HTTPError {
	if env == nil {
		return NewInternal("unknown error")
	}
	he := &HTTPError{
		Status:    status,
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
	}
	if len(env.Context) > 0 {
		he.Details = make(map[string]any, len(env.Context))
		for k, v := range env.Context {
			he.Details[k] = v
		}
	}
	return he
}

// RespondWithError writes err as the error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	he := FromError(err)
	if he.RequestID == "" && r != nil {
		he.RequestID = r.Header.Get("X-Request-ID")
	}
	Write(w, he)
}

// Write writes he with its status code.
func Write(w http.ResponseWriter, he *HTTPError) {
	status := he.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteEnvelope(w, he.Envelope(), status)
}

// WriteEnvelope writes env as {"error": {...}} with statusCode.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: FromEnvelope(statusCode, env)})
}
