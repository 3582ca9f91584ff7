package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/orderproc/domain"
)

const runningMessage = "Another stress test is already running"

// testResults is the stress test outcome shown by the dashboard.
type testResults struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	ID      *uuid.UUID   `json:"id,omitempty"`
	Metrics *testMetrics `json:"metrics,omitempty"`
}

type testMetrics struct {
	TotalTime   float64 `json:"totalTime"`  // seconds
	AvgLatency  float64 `json:"avgLatency"` // milliseconds per batch
	SuccessRate float64 `json:"successRate"`
	ErrorRate   float64 `json:"errorRate"`
}

type testStatus struct {
	IsRunning bool         `json:"isRunning"`
	Results   *testResults `json:"results,omitempty"`
}

type rejection struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

func resultsFor(result *domain.StressResult) *testResults {
	return &testResults{
		Success: result.Status == domain.StressCompleted || result.Status == domain.StressRunning,
		Message: result.Message,
		ID:      &result.ID,
		Metrics: &testMetrics{
			TotalTime:   (time.Duration(result.DurationMillis) * time.Millisecond).Seconds(),
			AvgLatency:  result.AvgBatchLatencyMillis,
			SuccessRate: result.SuccessRate,
			ErrorRate:   result.ErrorRate,
		},
	}
}

// startStressTest starts a background run and returns immediately.
func (s *Server) startStressTest(w http.ResponseWriter, r *http.Request) error {
	var cfg domain.StressConfig
	if err := decodeJSON(r, &cfg); err != nil {
		return err
	}

	result, err := s.svc.Stress.Start(r.Context(), cfg)
	switch {
	case errors.Is(err, domain.ErrStressTestRunning):
		return writeJSON(w, http.StatusConflict, testResults{Message: runningMessage})
	case errors.Is(err, domain.ErrStressTestLimit):
		return writeJSON(w, http.StatusBadRequest, testResults{Message: s.svc.Stress.LimitMessage()})
	case err != nil:
		return err
	}

	return writeJSON(w, http.StatusAccepted, testResults{
		Success: true,
		Message: "Stress test started",
		ID:      &result.ID,
	})
}

func (s *Server) stopStressTest(w http.ResponseWriter, r *http.Request) error {
	result, err := s.svc.Stress.Stop(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, resultsFor(result))
}

func (s *Server) stressTestStatus(w http.ResponseWriter, r *http.Request) error {
	running, result := s.svc.Stress.Status()
	status := testStatus{IsRunning: running}
	if result != nil {
		status.Results = resultsFor(result)
	}
	return writeJSON(w, http.StatusOK, status)
}

func (s *Server) stressTestHistory(w http.ResponseWriter, r *http.Request) error {
	limit, err := intParam(r.URL.Query().Get("limit"), 20)
	if err != nil {
		return badRequest(err, "invalid limit")
	}
	runs, err := s.svc.StressHistory(r.Context(), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*domain.StressResult{}
	}
	return writeJSON(w, http.StatusOK, runs)
}

// legacyStressTest runs a stress test synchronously. Rejections are reported with a 200
// and a "rejected" status.
func (s *Server) legacyStressTest(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	if query.Get("orderCount") == "" {
		return badRequest(nil, "orderCount is required")
	}
	orderCount, err := intParam(query.Get("orderCount"), 0)
	if err != nil {
		return badRequest(err, "invalid orderCount")
	}
	batchSize, err := intParam(query.Get("batchSize"), 100)
	if err != nil {
		return badRequest(err, "invalid batchSize")
	}

	result, err := s.svc.Stress.Run(r.Context(), domain.StressConfig{
		NumOrders: orderCount,
		BatchSize: batchSize,
		OrderType: domain.OrderTypeSimple,
	})
	switch {
	case errors.Is(err, domain.ErrStressTestLimit):
		return writeJSON(w, http.StatusOK, rejection{Error: s.svc.Stress.LimitMessage(), Status: domain.StressRejected})
	case errors.Is(err, domain.ErrStressTestRunning):
		return writeJSON(w, http.StatusOK, rejection{Error: runningMessage, Status: domain.StressRejected})
	case err != nil:
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}
