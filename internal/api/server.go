// Package api exposes the HTTP interface for the download service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
)

// Service is the submission and read surface the handlers drive.
type Service interface {
	Submit(ctx context.Context, req download.Request) (download.Job, error)
	Status(ctx context.Context, jobID string) (download.StatusView, error)
	File(ctx context.Context, jobID string) (download.Job, error)
	History(ctx context.Context, filter download.HistoryFilter, page, perPage int) (download.HistoryPage, error)
}

// SessionPurger reclaims a session's jobs on demand: artifacts are removed
// and records marked expired for the purge sweep to delete later.
type SessionPurger interface {
	PurgeSession(ctx context.Context, sessionID string) (int, error)
}

// Server wires HTTP handlers to the lifecycle manager and reclaimer.
type Server struct {
	router  chi.Router
	service Service
	purger  SessionPurger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, purger SessionPurger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		purger:  purger,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/downloads", func(r chi.Router) {
			r.Post("/", s.submitDownload)
			r.Get("/", s.listHistory)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getStatus)
				r.Get("/file", s.serveFile)
			})
		})
		r.Get("/activity", s.listActivity)
		r.Delete("/sessions/{session_id}", s.deleteSession)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	URL       string `json:"url"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
	AudioOnly bool   `json:"audio_only"`
}

func (s *Server) submitDownload(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	job, err := s.service.Submit(r.Context(), download.Request{
		URL:       req.URL,
		Format:    req.Format,
		Quality:   req.Quality,
		AudioOnly: req.AudioOnly,
		ClientIP:  clientIP(r),
		SessionID: r.Header.Get("X-Session-ID"),
	})
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"expires_at": job.ExpiresAt,
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var rateErr *download.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        "rate limit exceeded",
			"hourly_count": rateErr.HourlyCount,
			"hourly_limit": rateErr.HourlyLimit,
			"daily_count":  rateErr.DailyCount,
			"daily_limit":  rateErr.DailyLimit,
		})
	case errors.Is(err, download.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	view, err := s.service.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, download.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("status lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.service.File(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, download.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, download.ErrArtifactMissing):
			writeError(w, http.StatusGone, "file no longer available")
		default:
			s.logger.Error("file lookup failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+job.FileName+`"`)
	http.ServeFile(w, r, job.FilePath)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	// A session_id query narrows to that session; otherwise listings are
	// scoped to the caller's address.
	filter := download.HistoryFilter{ClientIP: clientIP(r)}
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		filter = download.HistoryFilter{SessionID: sessionID}
	}
	s.writeHistory(w, r, filter)
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	s.writeHistory(w, r, download.HistoryFilter{})
}

func (s *Server) writeHistory(w http.ResponseWriter, r *http.Request, filter download.HistoryFilter) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 10)

	history, err := s.service.History(r.Context(), filter, page, perPage)
	if err != nil {
		s.logger.Error("history listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	removed, err := s.purger.PurgeSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session purge failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"removed":    removed,
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
