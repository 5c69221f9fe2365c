// Package server exposes the script-generation and audio-assembly
// pipelines over HTTP and persists generated scripts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/podly-labs/podflow/audio"
	"github.com/podly-labs/podflow/script"
)

// ScriptService is the slice of the script pipeline the server calls.
type ScriptService interface {
	Create(ctx context.Context, in script.CreateInput) (*script.CreateOutput, error)
}

// AudioService is the slice of the audio pipeline the server calls.
type AudioService interface {
	Preview(ctx context.Context, in audio.PreviewInput) (*audio.PreviewOutput, error)
}

// Server routes HTTP requests into the pipelines.
type Server struct {
	scripts  ScriptStore
	scriptSv ScriptService
	audioSv  AudioService
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Server.
func New(scripts ScriptStore, scriptSv ScriptService, audioSv AudioService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scripts:  scripts,
		scriptSv: scriptSv,
		audioSv:  audioSv,
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scripts", s.handleCreateScript)
	mux.HandleFunc("GET /v1/scripts/{id}", s.handleGetScript)
	mux.HandleFunc("POST /v1/audio/preview", s.handleAudioPreview)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var in script.CreateInput
	if err := decodeAndValidate(raw, createScriptValidator, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.scriptSv.Create(r.Context(), in)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	rec := ScriptRecord{
		ID:        uuid.NewString(),
		Script:    out.NewScript,
		CreatedAt: s.now(),
	}
	if err := s.scripts.Save(r.Context(), rec); err != nil {
		// The script was generated; losing persistence degrades retrieval
		// but the client still gets its result.
		s.logger.Error("script save failed", "id", rec.ID, "error", err)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"scriptId":       rec.ID,
		"newScript":      out.NewScript,
		"previousScript": out.PreviousScript,
	})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	rec, err := s.scripts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrScriptNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAudioPreview(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var in audio.PreviewInput
	if err := decodeAndValidate(raw, audioPreviewValidator, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.audioSv.Preview(r.Context(), in)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writePipelineError maps pipeline failures onto status codes: domain-rule
// violations are the client's fault, everything else is ours.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var valErr *script.ValidationError
	if errors.As(err, &valErr) {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var genErr *script.GenerationFailedError
	if errors.As(err, &genErr) {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Warn("request rejected", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
