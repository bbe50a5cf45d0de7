// Package api exposes the session control surface over HTTP: join a
// meeting, stop a session, and fetch the live or final transcript.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/pipeline"
	"github.com/user/meetscribe/internal/transcript"
)

// TranscriptReader serves archived transcripts for sessions the manager no
// longer tracks.
type TranscriptReader interface {
	LoadTranscript(ctx context.Context, sessionID string) (transcript.Snapshot, error)
}

type Server struct {
	manager *pipeline.Manager
	archive TranscriptReader
	router  chi.Router
	port    int
}

func NewServer(manager *pipeline.Manager, archive TranscriptReader, port int) *Server {
	srv := &Server{
		manager: manager,
		archive: archive,
		port:    port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Post("/sessions", srv.handleJoin)
		r.Delete("/sessions/{sessionID}", srv.handleStop)
		r.Get("/sessions/{sessionID}", srv.handleStatus)
		r.Get("/sessions/{sessionID}/transcript", srv.handleTranscript)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Info().Str("addr", addr).Msg("Starting HTTP control API")
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "meetscribe",
	})
}

type joinRequest struct {
	MeetingURL string `json:"meeting_url"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MeetingURL == "" {
		writeError(w, http.StatusBadRequest, "meeting_url is required")
		return
	}

	sessionID, err := s.manager.StartSession(r.Context(), req.MeetingURL)
	if err != nil {
		log.Error().Err(err).Str("meeting_url", req.MeetingURL).Msg("Failed to start session")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "joining",
		"session_id":  sessionID,
		"meeting_url": req.MeetingURL,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.manager.StopSession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "stopped",
		"session_id": sessionID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := s.manager.SessionState(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"state":      state.String(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := s.manager.Snapshot(sessionID)
	if err != nil {
		// Unknown to the manager; the session may have finished in an
		// earlier process lifetime, so try the archive.
		if s.archive != nil {
			if archived, archiveErr := s.archive.LoadTranscript(r.Context(), sessionID); archiveErr == nil {
				writeJSON(w, http.StatusOK, archived)
				return
			}
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
