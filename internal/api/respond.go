package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"camguard/internal/domain"
	"camguard/pkg/logx"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	default:
		var be badRequest
		if errors.As(err, &be) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Err(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// decodeBody decodes one JSON value from the request body. Unknown fields
// are ignored; detectors send more than camguard stores.
func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if domain.IsValidation(err) {
			return err
		}
		return badRequest{fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}
