// Package api presents the job service over HTTP: submission, status,
// live progress streams, and administration.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/media/validate"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
	"github.com/CodecFlow/codecflow/pkg/storage"
)

// Stable client-facing error codes.
const (
	codeValidation   = "validation_error"
	codeSecurity     = "security_error"
	codeNotFound     = "not_found"
	codeUnauthorized = "unauthorized"
	codeAccessDenied = "access_denied"
	codeRateLimit    = "rate_limit_exceeded"
	codeEnqueue      = "queue_enqueue_failed"
	codeConflict     = "invalid_state"
	codeInternal     = "internal_error"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Field: field}})
}

// writeDomainError maps a domain error onto the HTTP surface.
// Validation and security messages pass through verbatim; everything
// else is generic so internals never leak.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, codeValidation, verr.Message, verr.Field)
		return
	}
	var serr *validate.SecurityError
	if errors.As(err, &serr) {
		writeError(w, http.StatusBadRequest, codeSecurity, serr.Message, "")
		return
	}
	var sterr *storage.StorageError
	if errors.As(err, &sterr) {
		switch {
		case storage.IsNotFound(err):
			writeError(w, http.StatusNotFound, codeNotFound, sterr.Message, "")
		case storage.IsSecurityViolation(err):
			writeError(w, http.StatusBadRequest, codeSecurity, sterr.Message, "")
		default:
			writeError(w, http.StatusInternalServerError, codeInternal, "storage backend error", "")
		}
		return
	}

	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "job not found", "")
	case errors.Is(err, jobstore.ErrInvalidAPIKey):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or missing api key", "")
	case errors.Is(err, jobstore.ErrTooManyActiveJobs), errors.Is(err, scheduler.ErrTenantCapExceeded):
		writeError(w, http.StatusTooManyRequests, codeRateLimit, "active job limit reached", "")
	case errors.Is(err, jobstore.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeConflict, "job is not in a state that allows this operation", "")
	case errors.Is(err, scheduler.ErrClosed), errors.Is(err, scheduler.ErrUnknownQueue):
		writeError(w, http.StatusServiceUnavailable, codeEnqueue, "job could not be enqueued", "")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error", "")
	}
}
