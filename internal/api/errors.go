package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/session"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps a domain error to its status code and envelope type.
func writeError(w http.ResponseWriter, err error) {
	code, errType := classify(err)
	if code >= http.StatusInternalServerError {
		slog.Warn("request failed", "status", code, "type", errType, "error", err)
	}
	httpError(w, code, errType, "%v", err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrIndexPending):
		return http.StatusServiceUnavailable, "index_pending"
	case errors.Is(err, pipeline.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "index_unavailable"
	case errors.Is(err, pipeline.ErrRetrieval):
		return http.StatusBadGateway, "retrieval_error"
	case errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway, "generation_error"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "session_busy"
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrUnknownPreset):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}
