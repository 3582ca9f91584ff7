package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tfkr-ae/orderproc/analytics"
	"github.com/tfkr-ae/orderproc/domain"
	"modernc.org/sqlite"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// requestError is a malformed request, reported as 400 with its message.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error, format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...), err: err}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrNoStressTest):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidStressConfig), errors.Is(err, domain.ErrStressTestLimit):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrStressTestRunning):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorKind classifies an error for the analytics error distribution.
func errorKind(err error) string {
	var sqliteErr *sqlite.Error
	switch status := statusFor(err); {
	case status == http.StatusNotFound:
		return analytics.KindNotFound
	case status == http.StatusConflict:
		return analytics.KindConflict
	case status == http.StatusGatewayTimeout:
		return analytics.KindTimeout
	case status >= 400 && status < 500:
		return analytics.KindValidation
	case errors.As(err, &sqliteErr):
		return analytics.KindDatabase
	default:
		return analytics.KindInternal
	}
}

// publicMessage hides internal failures from clients.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return badRequest(err, "invalid json body")
	}
	return nil
}
