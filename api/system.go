package api

import (
	"net/http"
	"time"
)

func (s *Server) memory(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.svc.MemoryStats())
}

func (s *Server) performance(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.svc.PerformanceStats())
}

type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// health reports DOWN with a 503 when the database cannot be reached.
func (s *Server) health(w http.ResponseWriter, r *http.Request) error {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "health check failed", "error", err)
		return writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "DOWN", Timestamp: time.Now().UTC(), Error: "database unavailable"})
	}
	return writeJSON(w, http.StatusOK, healthStatus{Status: "UP", Timestamp: time.Now().UTC()})
}
