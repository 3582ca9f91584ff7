// Package api exposes the order processing service over HTTP as a JSON API with a
// server-sent events stream of orders.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tfkr-ae/orderproc"
)

// Server routes API requests to an orderproc.Service.
type Server struct {
	svc           *orderproc.Service
	logger        *slog.Logger
	mux           *http.ServeMux
	allowedOrigin string
	compression   bool
	maxBodyBytes  int64
}

// New creates a Server with compression enabled, a 10 MiB body limit and CORS allowing
// http://localhost:3000, then applies any provided options.
func New(svc *orderproc.Service, options ...func(*Server) error) (*Server, error) {
	if svc == nil {
		return nil, errors.New("api server requires a service")
	}
	s := &Server{
		svc:           svc,
		logger:        svc.Logger,
		mux:           http.NewServeMux(),
		allowedOrigin: "http://localhost:3000",
		compression:   true,
		maxBodyBytes:  10 << 20,
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// WithAllowedOrigin sets the CORS origin. An empty origin disables CORS headers.
func WithAllowedOrigin(origin string) func(*Server) error {
	return func(s *Server) error {
		s.allowedOrigin = origin
		return nil
	}
}

// WithCompression toggles brotli and gzip response compression.
func WithCompression(enabled bool) func(*Server) error {
	return func(s *Server) error {
		s.compression = enabled
		return nil
	}
}

func WithLogger(logger *slog.Logger) func(*Server) error {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		s.logger = logger
		return nil
	}
}

func WithMaxBodyBytes(n int64) func(*Server) error {
	return func(s *Server) error {
		if n <= 0 {
			return errors.New("max body bytes must be positive")
		}
		s.maxBodyBytes = n
		return nil
	}
}

// Handler returns the routed API wrapped in its middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.observe(h)
	if s.compression {
		h = compress(h)
	}
	h = s.cors(h)
	h = requestContext(h)
	return h
}

func (s *Server) routes() {
	s.handle("GET /api/orders", s.listOrders)
	s.handle("POST /api/orders", s.createOrder)
	s.handle("POST /api/orders/batch", s.createBatch)
	s.handle("GET /api/orders/stream", s.streamOrders)
	s.handle("POST /api/orders/stress-test", s.legacyStressTest)
	s.handle("GET /api/orders/number/{orderNumber}", s.getOrderByNumber)
	s.handle("GET /api/orders/{id}", s.getOrder)
	s.handle("PUT /api/orders/{id}/status", s.updateOrderStatus)
	s.handle("DELETE /api/orders/{id}", s.deleteOrder)

	s.handle("POST /api/stress-test", s.startStressTest)
	s.handle("POST /api/stress-test/stop", s.stopStressTest)
	s.handle("GET /api/stress-test/status", s.stressTestStatus)
	s.handle("GET /api/stress-test/history", s.stressTestHistory)

	s.handle("GET /api/analytics", s.analytics)
	s.handle("GET /api/analytics/throughput", s.throughput)
	s.handle("GET /api/analytics/latency", s.latency)
	s.handle("GET /api/analytics/errors", s.errorDistribution)
	s.handle("GET /api/analytics/bottlenecks", s.bottlenecks)
	s.handle("GET /api/analytics/summary", s.summary)
	s.handle("GET /api/analytics/events", s.events)

	s.handle("GET /api/system/memory", s.memory)
	s.handle("GET /api/system/performance", s.performance)
	s.handle("GET /api/system/health", s.health)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found", Status: http.StatusNotFound})
	})
}

// handle registers a handler that reports failures by returning an error.
// The error is written as JSON and counted in the analytics error distribution.
func (s *Server) handle(pattern string, fn func(w http.ResponseWriter, r *http.Request) error) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		err := fn(w, r)
		if err == nil {
			return
		}

		status := statusFor(err)
		s.svc.Analytics.RecordError(errorKind(err))
		attrs := []any{"route", pattern, "status", status, "error", err}
		if id, ok := orderproc.RequestIDFromContext(r.Context()); ok {
			attrs = append(attrs, "request_id", id.String())
		}
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "request failed", attrs...)
		} else {
			s.logger.DebugContext(r.Context(), "request rejected", attrs...)
		}
		writeJSON(w, status, errorResponse{Error: publicMessage(err, status), Status: status})
	})
}
