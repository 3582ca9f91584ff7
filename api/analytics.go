package api

import (
	"net/http"

	"github.com/tfkr-ae/orderproc/domain"
)

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.svc.Analytics.Snapshot())
}

func (s *Server) throughput(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.svc.Analytics.Throughput())
}

func (s *Server) latency(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.svc.Analytics.Latency())
}

func (s *Server) errorDistribution(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, s.svc.Analytics.Errors())
}

func (s *Server) bottlenecks(w http.ResponseWriter, r *http.Request) error {
	bottlenecks, err := s.svc.Bottlenecks(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, bottlenecks)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) error {
	summary, err := s.svc.Summary(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, summary)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) error {
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		return badRequest(err, "invalid limit")
	}
	events, err := s.svc.Events(r.Context(), limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*domain.Event{}
	}
	return writeJSON(w, http.StatusOK, events)
}
