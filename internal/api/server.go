// Package api provides the HTTP API server for LearnPulse.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/engine"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/metrics"
)

// Stats is the surface the stats endpoint reads from the work queue.
type Stats interface {
	Pending() int
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *engine.Engine
	queue      Stats
	metrics    *metrics.Metrics
	wsHub      *WebSocketHub
	log        *logging.Logger
	started    time.Time
}

// Config for the server
type Config struct {
	Host    string
	Port    int
	Engine  *engine.Engine
	Queue   Stats
	Metrics *metrics.Metrics
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		engine:  cfg.Engine,
		queue:   cfg.Queue,
		metrics: cfg.Metrics,
		wsHub:   NewWebSocketHub(),
		log:     logging.WithField("component", "api"),
		started: time.Now(),
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Ingestion
		r.Post("/events", s.handlePostEvent)

		// Query
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/profile", s.handleGetProfile)
			r.Get("/patterns", s.handleGetPatterns)
			r.Get("/focus", s.handleGetFocus)
			r.Get("/recommendations", s.handleGetRecommendations)
			r.Get("/bundle", s.handleGetBundle)
		})

		// Feedback
		r.Post("/recommendations/{recID}/outcome", s.handlePostOutcome)
		r.Post("/recommendations/{recID}/pause", s.handlePauseRecommendation)
		r.Post("/recommendations/{recID}/resume", s.handleResumeRecommendation)

		// Operational
		r.Get("/stats", s.handleGetStats)
	})

	// Live updates
	r.Get("/ws", s.handleWebSocket)

	// Prometheus
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// Router exposes the handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until it is shut down
func (s *Server) Start() error {
	go s.wsHub.Run()
	s.log.Info("API server starting on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends a message to all WebSocket clients
func (s *Server) Broadcast(msgType string, data interface{}) {
	s.wsHub.Broadcast(WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrMissingRequired):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrEventOutOfOrder), errors.Is(err, core.ErrRecommendationTerminal):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrUserNotFound), errors.Is(err, core.ErrRecommendationNotFound), errors.Is(err, core.ErrKeyNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Handlers ---

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev core.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if _, err := s.engine.Ingest(r.Context(), ev); err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.Broadcast("event_ingested", map[string]interface{}{
		"event_id": ev.ID,
		"user_id":  ev.UserID,
	})
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"event_id": ev.ID,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	p, err := s.engine.Stores().Profiles.Get(r.Context(), user)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	if _, err := s.engine.Stores().Profiles.Get(r.Context(), user); err != nil {
		s.respondDomainError(w, err)
		return
	}
	pats, err := s.engine.Stores().Patterns.Get(r.Context(), user)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if pats == nil {
		pats = []core.Pattern{}
	}
	s.respondJSON(w, http.StatusOK, pats)
}

func (s *Server) handleGetFocus(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	if _, err := s.engine.Stores().Profiles.Get(r.Context(), user); err != nil {
		s.respondDomainError(w, err)
		return
	}
	run, err := s.engine.Stores().Focus.Latest(r.Context(), user)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if run == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"areas": []core.FocusArea{}})
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	if _, err := s.engine.Stores().Profiles.Get(r.Context(), user); err != nil {
		s.respondDomainError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.engine.Recommender().List(r.Context(), user, limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []core.Recommendation{}
	}
	s.respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	if _, err := s.engine.Stores().Profiles.Get(r.Context(), user); err != nil {
		s.respondDomainError(w, err)
		return
	}

	focusArea := r.URL.Query().Get("focus")
	minutes := 30
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = n
	}

	bundle, err := s.engine.Recommender().CreateBundle(r.Context(), user, focusArea, minutes)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.BundlesBuilt.Inc()
	}
	s.respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handlePostOutcome(w http.ResponseWriter, r *http.Request) {
	recID := chi.URLParam(r, "recID")

	var o core.Outcome
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	o.RecommendationID = recID
	if o.UserID == "" {
		s.respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	adjustment, err := s.engine.RecordOutcome(r.Context(), o)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"recommendation_id": recID,
		"recorded":          true,
	}
	if adjustment != nil {
		resp["adaptive_adjustment"] = adjustment
		s.Broadcast("adaptive_adjustment", adjustment)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePauseRecommendation(w http.ResponseWriter, r *http.Request) {
	s.handleStatusChange(w, r, func(ctx context.Context, user core.UserID, id string) (*core.Recommendation, error) {
		return s.engine.Recommender().Pause(ctx, user, id)
	})
}

func (s *Server) handleResumeRecommendation(w http.ResponseWriter, r *http.Request) {
	s.handleStatusChange(w, r, func(ctx context.Context, user core.UserID, id string) (*core.Recommendation, error) {
		return s.engine.Recommender().Resume(ctx, user, id)
	})
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request, fn func(context.Context, core.UserID, string) (*core.Recommendation, error)) {
	recID := chi.URLParam(r, "recID")

	var body struct {
		UserID core.UserID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		s.respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	rec, err := fn(r.Context(), body.UserID, recID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.Users(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	stats := map[string]interface{}{
		"users":          len(users),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"ws_clients":     s.wsHub.ClientCount(),
	}
	if s.queue != nil {
		stats["queued_jobs"] = s.queue.Pending()
	}
	s.respondJSON(w, http.StatusOK, stats)
}
