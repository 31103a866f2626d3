package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-draw-watcher/internal/config"
	"github.com/JakeFAU/realtime-draw-watcher/internal/dispatcher"
	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
	"github.com/JakeFAU/realtime-draw-watcher/internal/metrics"
	"github.com/JakeFAU/realtime-draw-watcher/internal/session"
)

// Sessions is the part of the dispatcher the API drives.
type Sessions interface {
	Start(req dispatcher.Request) (string, error)
	Get(id string) (session.Result, bool)
	List() []session.Result
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router   chi.Router
	sessions Sessions
	clock    draw.Clock
	cfg      config.Config
	logger   *zap.Logger
	checks   map[string]Check
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sessions Sessions,
	clock draw.Clock,
	cfg config.Config,
	logger *zap.Logger,
	checks map[string]Check,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		checks:   checks,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/families", s.listFamilies)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Get("/", s.listSessions)
			r.Get("/{session_id}", s.getSession)
		})
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failed", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startSessionRequest struct {
	Family  string   `json:"family"`
	Date    string   `json:"date"`
	Regions []string `json:"regions"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Family) == "" {
		writeError(w, http.StatusBadRequest, "family required")
		return
	}
	f, _, err := s.cfg.Family(req.Family)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	date := draw.Today(s.clock.Now(), f.Location)
	if req.Date != "" {
		date, err = draw.ParseDate(req.Date, f.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var regions []string
	for _, region := range req.Regions {
		region = strings.TrimSpace(region)
		if region == "" {
			writeError(w, http.StatusBadRequest, "regions must not be blank")
			return
		}
		regions = append(regions, region)
	}

	id, err := s.sessions.Start(dispatcher.Request{Family: f.Name, Date: date, Regions: regions})
	switch {
	case errors.Is(err, dispatcher.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, dispatcher.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("start session failed", zap.String("family", f.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": id,
		"family":     f.Name,
		"date":       draw.FormatDate(date),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	family := r.URL.Query().Get("family")
	all := s.sessions.List()
	out := make([]session.Result, 0, len(all))
	for _, res := range all {
		if family != "" && res.Family != family {
			continue
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	res, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": res})
}

type fieldInfo struct {
	Key       string `json:"key"`
	Slots     int    `json:"slots"`
	Threshold int    `json:"threshold"`
}

type familyInfo struct {
	Name          string      `json:"name"`
	Code          string      `json:"code"`
	Label         string      `json:"label"`
	MultiTarget   bool        `json:"multi_target"`
	LiveWindow    string      `json:"live_window"`
	LiveInterval  string      `json:"live_interval"`
	IdleInterval  string      `json:"idle_interval"`
	Budget        string      `json:"budget"`
	Extractor     string      `json:"extractor,omitempty"`
	DefaultRegion string      `json:"default_region,omitempty"`
	Fields        []fieldInfo `json:"fields"`
}

func (s *Server) listFamilies(w http.ResponseWriter, _ *http.Request) {
	names := draw.FamilyNames()
	out := make([]familyInfo, 0, len(names))
	for _, name := range names {
		f, ext, err := s.cfg.Family(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("family %s: %v", name, err))
			return
		}
		info := familyInfo{
			Name:          f.Name,
			Code:          f.Code,
			Label:         f.Label,
			MultiTarget:   f.MultiTarget,
			LiveWindow:    f.LiveWindow.String(),
			LiveInterval:  f.LiveInterval.String(),
			IdleInterval:  f.IdleInterval.String(),
			Budget:        f.Budget.String(),
			Extractor:     ext.Kind,
			DefaultRegion: f.DefaultRegion(draw.Today(s.clock.Now(), f.Location)),
		}
		for _, spec := range f.Schema {
			info.Fields = append(info.Fields, fieldInfo{Key: spec.Key, Slots: spec.Slots, Threshold: spec.StabilityThreshold()})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"families": out})
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
