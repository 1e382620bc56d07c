package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/sequence"
)

// listSequences returns every live sequence.
// GET /api/sequences
func (s *Server) listSequences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sequenceSvc.List())
}

// createSequence loads a sequence document, replacing any live sequence
// with the same name.
// POST /api/sequences
func (s *Server) createSequence(w http.ResponseWriter, r *http.Request) {
	var doc persist.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := s.sequenceSvc.Load(r.Context(), &doc); err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.sequenceSvc.Summary(doc.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// GET /api/sequences/{name}
func (s *Server) getSequence(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sequenceSvc.Summary(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DELETE /api/sequences/{name}
func (s *Server) deleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.sequenceSvc.Remove(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSequenceDocument snapshots the live graph.
// GET /api/sequences/{name}/document
func (s *Server) getSequenceDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.sequenceSvc.Document(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type executeRequest struct {
	Inputs []any `json:"inputs"`
}

type executeResponse struct {
	*persist.RunRecord
	Error string `json:"error,omitempty"`
}

// executeSequence runs the sequence once and returns the run record. A run
// that executed but failed still answers 200; the outcome says FAIL.
// POST /api/sequences/{name}/execute
func (s *Server) executeSequence(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	record, err := s.sequenceSvc.Execute(r.Context(), chi.URLParam(r, "name"), req.Inputs, persist.TriggerManual)
	if record == nil {
		writeError(w, err)
		return
	}
	resp := executeResponse{RunRecord: record}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// setSequenceMode switches PROGRAM, RUN or TEST.
// PUT /api/sequences/{name}/mode
func (s *Server) setSequenceMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := sequence.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.sequenceSvc.SetMode(name, mode); err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.sequenceSvc.Summary(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /api/sequences/{name}/results
func (s *Server) getSequenceResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.sequenceSvc.Results(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// listSequenceRuns pages through the run history, newest first.
// GET /api/sequences/{name}/runs?limit=20&offset=0
func (s *Server) listSequenceRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.sequenceSvc.Get(name); err != nil {
		writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	runs, total, err := s.sequenceSvc.Runs(r.Context(), name, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*persist.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})
}

// GET /api/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	record, err := s.sequenceSvc.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
