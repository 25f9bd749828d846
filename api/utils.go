package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

// CodedError attaches an HTTP status to err.
func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

// CodedErrorf formats an error carrying an HTTP status.
func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RestHandler adapts a handler returning a value or an error to http.HandlerFunc.
// Values are written as JSON with status 200; errors use the status of a
// CodedError and 500 otherwise.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			code := http.StatusInternalServerError
			var cerr *codedError
			if errors.As(err, &cerr) {
				code = cerr.code
			} else {
				slog.Error("received non coded error from endpoint", "error", err)
			}
			if code == http.StatusInternalServerError {
				slog.Error("internal server error received in endpoint", "path", r.URL.Path, "error", err)
			}
			WriteJsonResponse(w, code, ErrorResponse{Error: err.Error()})
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, http.StatusOK, res)
	}
}

// WriteJsonResponse writes data as JSON with the given status.
func WriteJsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}
