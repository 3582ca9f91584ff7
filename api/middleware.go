package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/tfkr-ae/orderproc"
)

// requestContext tags every request with an ID and its arrival time.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set("X-Request-ID", id.String())
		r = orderproc.ContextWithRequestID(r, id)
		r = orderproc.ContextWithRequestTime(r, time.Now())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowedOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", s.allowedOrigin)
		header.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Request-ID")
			header.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compress encodes responses with brotli or gzip depending on Accept-Encoding.
// Event streams are left uncompressed.
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/stream") {
			next.ServeHTTP(w, r)
			return
		}
		// set before the encoder is picked, which only adds Vary when it is empty
		w.Header().Add("Vary", "Accept-Encoding")
		if r.Header.Get("Accept-Encoding") == "" {
			next.ServeHTTP(w, r)
			return
		}
		cw := &compressWriter{ResponseWriter: w, r: r}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}

// compressWriter picks the encoder when the status is known, so bodiless responses stay bodiless.
type compressWriter struct {
	http.ResponseWriter
	r           *http.Request
	encoder     io.WriteCloser
	wroteHeader bool
}

func (cw *compressWriter) WriteHeader(status int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	if bodyAllowed(status) && cw.r.Method != http.MethodHead {
		cw.Header().Del("Content-Length")
		cw.encoder = brotli.HTTPCompressor(cw.ResponseWriter, cw.r)
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.encoder == nil {
		return cw.ResponseWriter.Write(b)
	}
	return cw.encoder.Write(b)
}

func (cw *compressWriter) Flush() {
	if flusher, ok := cw.encoder.(interface{ Flush() error }); ok {
		flusher.Flush()
	}
	http.NewResponseController(cw.ResponseWriter).Flush()
}

func (cw *compressWriter) Close() error {
	if cw.encoder == nil {
		return nil
	}
	return cw.encoder.Close()
}

func (cw *compressWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// statusWriter records the response status for the analytics recorder.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.status == 0 {
		sw.status = status
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	http.NewResponseController(sw.ResponseWriter).Flush()
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// observe records the status and duration of every API request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, ok := orderproc.RequestTimeFromContext(r.Context())
		if !ok {
			start = time.Now()
		}
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		elapsed := time.Since(start)
		s.svc.Analytics.Observe(sw.status, elapsed)
		attrs := []any{"method", r.Method, "path", r.URL.Path, "pattern", r.Pattern, "status", sw.status, "duration", elapsed}
		if id, ok := orderproc.RequestIDFromContext(r.Context()); ok {
			attrs = append(attrs, "request_id", id.String())
		}
		s.logger.DebugContext(r.Context(), "handled request", attrs...)
	})
}
