package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/athena-ai/dashboard/internal/schema"
	"github.com/athena-ai/dashboard/internal/server/storage"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store  *storage.Storage
	logger *slog.Logger
	tokens *TokenIssuer
}

// NewServer creates a Server over store. tokens may be nil, in which case
// the login endpoint answers 503.
func NewServer(store *storage.Storage, logger *slog.Logger, tokens *TokenIssuer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger, tokens: tokens}
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an HTTP error response with a JSON body containing an
// "error" field.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONError(w, code, msg)
}

// fail maps err onto the error taxonomy: validation and uniqueness failures
// are the caller's fault (400) and carry their message; anything else is
// logged and reported as a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *schema.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads a JSON object from the request body. Numbers are kept as
// json.Number so integer fields can be checked exactly.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	if body == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return body, nil
}

// handleHealthz responds to GET /healthz.
//
// Returns 200 when the active backend answers a read and 503 otherwise, so
// load balancers see a wedged database.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- /api/logs --------------------------------------------------------------

// handleListLogs responds to GET /api/logs.
//
// Supported query parameters:
//
//	entityType – exact match (optional)
//	entityId   – exact match (optional)
//	action     – one of created, updated, deleted, login, logout (optional)
//	userId     – exact match (optional)
//	limit      – maximum number of entries, newest first (optional)
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.LogFilter{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Action:     q.Get("action"),
		UserID:     q.Get("userId"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		f.Limit = limit
	}

	logs, err := s.store.Logs.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleGetLog responds to GET /api/logs/{id}.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Logs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "log entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleCreateLog responds to POST /api/logs. The acting user and client IP
// fill userId and ipAddress when the body leaves them out.
func (s *Server) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.store.Logs.Append(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ---- /api/ai-control --------------------------------------------------------

// handleGetControl responds to GET /api/ai-control.
func (s *Server) handleGetControl(w http.ResponseWriter, r *http.Request) {
	ctl, err := s.store.Control.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ctl)
}

// handleUpdateControl responds to PATCH /api/ai-control.
func (s *Server) handleUpdateControl(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctl, err := s.store.Control.Update(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ctl == nil {
		writeError(w, http.StatusNotFound, "ai control settings not found")
		return
	}
	writeJSON(w, http.StatusOK, ctl)
}
