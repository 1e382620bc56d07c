package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/soochol/procflow/internal/repository"
	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusOf(err))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrSequenceNotFound),
		errors.Is(err, services.ErrScheduleNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidDocument),
		errors.Is(err, sequence.ErrCycle):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrLooping),
		errors.Is(err, services.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
