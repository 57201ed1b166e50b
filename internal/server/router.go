package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// API эндпоинты
	r.Post("/start", s.StartRun)
	r.Post("/stop", s.StopRun)
	r.Get("/stream", s.Stream)
	r.Get("/export", s.ExportCSV)
	r.Get("/run", s.GetRun)
	r.Post("/solve", s.Solve)
	r.Post("/batch", s.Batch)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}
