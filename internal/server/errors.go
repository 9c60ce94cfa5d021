package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// errorBody is the JSON error envelope. Internal details never reach the
// client; 5xx responses carry the correlation id that matches a log line.
type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	Resource      string `json:"resource,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *types.ValidationError
		qerr *quota.QuotaExceededError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_error", Message: verr.Error()})
	case errors.Is(err, auth.ErrAuthMissing):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "auth_missing"})
	case errors.Is(err, auth.ErrAuthInvalid):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "auth_invalid"})
	case errors.Is(err, auth.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, storage.ErrInviteNotConsumable):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_token", Message: "link is invalid or expired"})
	case errors.As(err, &qerr):
		w.Header().Set("Retry-After", strconv.Itoa(s.ledger.MidnightIn()))
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:    "quota_exceeded",
			Resource: string(qerr.Resource),
		})
	case errors.Is(err, storage.ErrUnavailable):
		s.logError(r, err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:         "storage_unavailable",
			CorrelationID: middleware.GetReqID(r.Context()),
		})
	default:
		s.logError(r, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:         "internal",
			CorrelationID: middleware.GetReqID(r.Context()),
		})
	}
}

func (s *Server) logError(r *http.Request, err error) {
	s.log.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Any("error", err),
	)
}

// decodeJSON parses a request body, rejecting unknown fields so client
// typos surface instead of silently dropping data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.Invalidf("body", "malformed JSON: %v", err)
	}
	return nil
}
