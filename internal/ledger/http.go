package ledger

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/idgen"
	"github.com/alfredjeanlab/gatepass/internal/model"
)

// eventIDPrefix is used for server-generated event IDs.
const eventIDPrefix = "ev-"

// Server exposes the ledger over HTTP/JSON.
type Server struct {
	store  Store
	logger *slog.Logger
}

// NewServer creates a Server. A nil logger falls back to slog.Default.
func NewServer(store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger}
}

// Handler returns an http.Handler with all routes registered. When authToken
// is non-empty, requests (except GET /v1/health) must include a valid
// Authorization: Bearer <token> header.
func (s *Server) Handler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleCreateEvent)
	mux.HandleFunc("GET /v1/events/{id}", s.handleGetEvent)
	mux.HandleFunc("POST /v1/events/{id}/cancel", s.handleCancelEvent)
	mux.HandleFunc("GET /v1/events/{id}/checkins", s.handleListCheckIns)
	mux.HandleFunc("PUT /v1/events/{id}/checkins", s.handlePutCheckIn)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateEvent handles POST /v1/events.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.ValidFrom.IsZero() || ev.ValidUntil.IsZero() {
		writeError(w, http.StatusBadRequest, "valid_from and valid_until are required")
		return
	}
	if !ev.ValidUntil.After(ev.ValidFrom) {
		writeError(w, http.StatusBadRequest, "valid_until must follow valid_from")
		return
	}
	if ev.MaxCheckInsPerUser <= 0 {
		ev.MaxCheckInsPerUser = 1
	}
	if ev.ID == "" {
		id, err := idgen.GenerateWithPrefix(eventIDPrefix)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate event id")
			return
		}
		ev.ID = id
	}
	if ev.Status == "" {
		ev.Status = model.EventOpen
	}
	if !ev.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid event status")
		return
	}

	if err := s.store.CreateEvent(r.Context(), &ev); err != nil {
		s.logger.Error("ledger: create event failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	writeJSON(w, http.StatusCreated, &ev)
}

// handleGetEvent handles GET /v1/events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("ledger: get event failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleCancelEvent handles POST /v1/events/{id}/cancel.
func (s *Server) handleCancelEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.CancelEvent(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("ledger: cancel event failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleListCheckIns handles GET /v1/events/{id}/checkins.
func (s *Server) handleListCheckIns(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListCheckIns(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("ledger: list check-ins failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list check-ins")
		return
	}
	if records == nil {
		records = []*model.CheckInRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkins": records,
		"total":    len(records),
	})
}

// handlePutCheckIn handles PUT /v1/events/{id}/checkins, the idempotent
// submission endpoint used by devices.
func (s *Server) handlePutCheckIn(w http.ResponseWriter, r *http.Request) {
	var rec model.CheckInRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec.EventID = r.PathValue("id")

	if rec.ID == "" || rec.UserID == "" || rec.DeviceID == "" || rec.ClientSeq <= 0 {
		writeError(w, http.StatusBadRequest, "id, user_id, device_id and client_seq are required")
		return
	}
	if rec.CapturedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "captured_at is required")
		return
	}

	outcome, err := s.store.PutCheckIn(r.Context(), &rec)
	switch {
	case errors.Is(err, ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
		return
	case errors.Is(err, ErrEventCancelled):
		writeError(w, http.StatusUnprocessableEntity, "event cancelled")
		return
	case err != nil:
		s.logger.Error("ledger: put check-in failed", "record", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record check-in")
		return
	}

	if outcome.Conflict != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"conflict": outcome.Conflict})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server_seq": outcome.Record.ServerSeq,
		"duplicate":  outcome.Duplicate,
	})
}

// AuthMiddleware wraps an http.Handler and checks the Authorization header for
// a valid Bearer token. When token is empty, auth is disabled and all requests
// pass through. GET /v1/health is always exempt.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Exempt health check.
		if r.Method == http.MethodGet && r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "invalid authorization scheme")
			return
		}

		provided := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs the method, path, status, and duration of every
// request.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
