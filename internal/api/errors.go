package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/ota-core/internal/group"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInvalidPolicy  = "invalid_policy"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeGroupError maps a group.Service error to its response. Internal
// errors are logged and reported with fallback instead of their text.
func (s *Server) writeGroupError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch group.Outcome(err) {
	case group.OutcomeNotFound:
		writeNotFound(w, "group does not exist")
	case group.OutcomeConflict:
		var cerr *group.ConflictError
		if errors.As(err, &cerr) {
			writeConflict(w, cerr.Error())
			return
		}
		writeConflict(w, err.Error())
	case group.OutcomeInvalidPolicy:
		reason, _ := group.PolicyReason(err)
		writeError(w, http.StatusBadRequest, ErrCodeInvalidPolicy, "invalid policy: "+reason)
	default:
		s.logger.Error(fallback,
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, fallback)
	}
}
