// Package api exposes the live sequences over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/soochol/procflow/internal/services"
)

type Server struct {
	sequenceSvc    *services.SequenceService
	schedulerSvc   *services.SchedulerService
	limiter        *services.ConcurrencyLimiter
	allowedOrigins []string
}

func NewServer(sequenceSvc *services.SequenceService) *Server {
	return &Server{
		sequenceSvc:    sequenceSvc,
		allowedOrigins: []string{"*"},
	}
}

// SetSchedulerService enables the /api/schedules routes.
func (s *Server) SetSchedulerService(svc *services.SchedulerService) {
	s.schedulerSvc = svc
}

// SetConcurrencyLimiter enables /api/scheduler/stats.
func (s *Server) SetConcurrencyLimiter(limiter *services.ConcurrencyLimiter) {
	s.limiter = limiter
}

func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		s.allowedOrigins = origins
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Route("/api", func(r chi.Router) {
		r.Route("/sequences", func(r chi.Router) {
			r.Get("/", s.listSequences)
			r.Post("/", s.createSequence)
			r.Get("/{name}", s.getSequence)
			r.Delete("/{name}", s.deleteSequence)
			r.Get("/{name}/document", s.getSequenceDocument)
			r.Post("/{name}/execute", s.executeSequence)
			r.Put("/{name}/mode", s.setSequenceMode)
			r.Get("/{name}/results", s.getSequenceResults)
			r.Get("/{name}/runs", s.listSequenceRuns)
		})
		r.Get("/runs/{id}", s.getRun)
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.createSchedule)
			r.Get("/", s.listSchedules)
			r.Get("/{id}", s.getSchedule)
			r.Delete("/{id}", s.deleteSchedule)
		})
		r.Get("/scheduler/stats", s.getSchedulerStats)
	})
	return r
}
