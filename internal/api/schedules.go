package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/procflow/internal/services"
)

type scheduleRequest struct {
	Sequence string `json:"sequence"`
	CronExpr string `json:"cron_expr"`
	Inputs   []any  `json:"inputs"`
}

// createSchedule registers a cron trigger for a live sequence.
// POST /api/schedules
func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sequence == "" || req.CronExpr == "" {
		http.Error(w, "sequence and cron_expr are required", http.StatusBadRequest)
		return
	}
	if _, err := s.sequenceSvc.Get(req.Sequence); err != nil {
		writeError(w, err)
		return
	}
	schedule, err := s.schedulerSvc.AddSchedule(req.Sequence, req.CronExpr, req.Inputs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

// GET /api/schedules
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		writeJSON(w, http.StatusOK, []services.Schedule{})
		return
	}
	writeJSON(w, http.StatusOK, s.schedulerSvc.ListSchedules())
}

// GET /api/schedules/{id}
func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusNotFound)
		return
	}
	schedule, err := s.schedulerSvc.GetSchedule(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// DELETE /api/schedules/{id}
func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusNotFound)
		return
	}
	if err := s.schedulerSvc.RemoveSchedule(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/scheduler/stats
func (s *Server) getSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeJSON(w, http.StatusOK, services.ConcurrencyStats{})
		return
	}
	writeJSON(w, http.StatusOK, s.limiter.Stats())
}
