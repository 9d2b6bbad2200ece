// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/log"
)

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a core error kind to its HTTP status and writes
// the envelope. Unknown errors surface as 500 without implementation
// detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := classify(err)
	detail := err.Error()
	if code == http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "request.internal_error").
			Str(log.FieldPath, r.URL.Path).
			Msg("unclassified error in handler")
		detail = "internal error"
	}
	writeJSON(w, code, errorBody{Error: kind, Detail: detail})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, core.ErrNothingToPropagate):
		return http.StatusBadRequest, "nothing_to_propagate"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrVideoUnreadable):
		return http.StatusNotFound, "video_unreadable"
	case errors.Is(err, core.ErrSessionGone):
		return http.StatusNotFound, "session_gone"
	case errors.Is(err, core.ErrVideoTooLarge):
		return http.StatusUnprocessableEntity, "video_too_large"
	case errors.Is(err, core.ErrCapacityExceeded):
		return http.StatusInsufficientStorage, "capacity_exceeded"
	case errors.Is(err, core.ErrSegmenterFailed):
		return http.StatusBadGateway, "segmenter_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
