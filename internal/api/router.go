package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lhkeeper/internal/bridges/bluetooth"
	"github.com/nerrad567/lhkeeper/internal/history"
	"github.com/nerrad567/lhkeeper/internal/keepalive"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})

	return r
}

// handleHealth answers 200 while the loop runs and 503 once it has stopped.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	if !st.Running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  string(st.State),
			"reason":  st.StopReason,
			"version": s.version,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// statusResponse is the loop snapshot with link counters alongside.
type statusResponse struct {
	keepalive.Status
	Link *bluetooth.Stats `json:"link,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Status: s.status.Status()}
	if s.link != nil {
		stats := s.link.Stats()
		resp.Link = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// historyResponse wraps the recent cycles.
type historyResponse struct {
	Cycles []history.Entry `json:"cycles"`
	Count  int             `json:"count"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("loading cycle history", "error", err)
		writeInternalError(w, "failed to load history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Cycles: entries, Count: len(entries)})
}
