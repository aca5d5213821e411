package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/arogya-health/consult/internal/config"
	"github.com/arogya-health/consult/internal/consult"
	"github.com/arogya-health/consult/internal/consultstore"
	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/observability"
	"github.com/arogya-health/consult/internal/transcache"
)

type Server struct {
	cfg      config.Config
	manager  *consult.Manager
	cache    *transcache.Cache
	kv       kvstore.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, manager *consult.Manager, cache *transcache.Cache, kv kvstore.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		cache:   cache,
		kv:      kv,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; patient sessions must not be drivable from
				// other sites.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/{consultationID}", s.handleConsultationWS)

	r.Get("/v1/cache/stats", s.handleCacheStats)
	r.Post("/v1/cache/invalidate", s.handleCacheInvalidate)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.manager.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.kv.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.cache.Snapshot())
}

type invalidateRequest struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if r.Body != nil {
		defer r.Body.Close()
		// An empty body means an unfiltered sweep.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	removed, err := s.cache.Invalidate(r.Context(), req.SourceLang, req.TargetLang)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "invalidate_failed", "cache invalidation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) callerPrefs(r *http.Request) consultstore.LanguagePrefs {
	q := r.URL.Query()
	return consultstore.LanguagePrefs{
		Preferred: strings.TrimSpace(q.Get("preferred")),
		Interface: strings.TrimSpace(q.Get("interface")),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
