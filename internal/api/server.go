package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/bl4ck0w1/codelynx/internal/bridge"
	"github.com/bl4ck0w1/codelynx/internal/orchestration"
	"github.com/bl4ck0w1/codelynx/internal/progress"
	"github.com/bl4ck0w1/codelynx/internal/reporting"
	"github.com/bl4ck0w1/codelynx/internal/target"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

type Engine interface {
	StartScan(ctx context.Context, targetID string, tools []string) (string, error)
	GetSession(id string) (models.ScanSession, error)
	ListSessions() []models.ScanSession
	CancelScan(id string) error
}

type TargetRegistrar interface {
	RegisterDirect(id, path string) error
}

type ToolLister interface {
	Availability(ctx context.Context) []bridge.ToolInfo
}

// Server exposes the engine over HTTP.
type Server struct {
	engine    Engine
	hub       *progress.Hub
	targets   TargetRegistrar
	tools     ToolLister
	summaries *reporting.SummaryBuilder
	metrics   *utils.MetricsCollector
	config    models.APIConfig
	version   string
	logger    *logrus.Logger

	keepAlive time.Duration
}

type Options struct {
	Engine  Engine
	Hub     *progress.Hub
	Targets TargetRegistrar
	Tools   ToolLister
	Metrics *utils.MetricsCollector
	Version string
	Logger  *logrus.Logger
}

func NewServer(cfg models.APIConfig, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		engine:    opts.Engine,
		hub:       opts.Hub,
		targets:   opts.Targets,
		tools:     opts.Tools,
		summaries: reporting.NewSummaryBuilder(nil),
		metrics:   opts.Metrics,
		config:    cfg,
		version:   opts.Version,
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(s.corsHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", s.handleStartScan)
		r.Get("/scans", s.handleListScans)
		r.Get("/scans/{id}", s.handleGetScan)
		r.Delete("/scans/{id}", s.handleCancelScan)
		r.Get("/scans/{id}/events", s.handleEvents)
		r.Post("/targets", s.handleRegisterTarget)
		r.Get("/tools", s.handleTools)
	})
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(s.config.CORSOrigins) == 1 && s.config.CORSOrigins[0] == "*" {
		opts.AllowCredentials = false
	}
	return cors.Handler(opts)
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// ListenAndServe listens on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts at most max_connections concurrent connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.WithFields(logrus.Fields{
		"addr":            ln.Addr().String(),
		"max_connections": s.config.MaxConnections,
	}).Info("API server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		if id := middleware.GetReqID(r.Context()); id != "" {
			ww.Header().Set(middleware.RequestIDHeader, id)
		}

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote":     r.RemoteAddr,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		}).Debug("HTTP request completed")
	})
}

type startScanRequest struct {
	TargetID string   `json:"targetId"`
	Tools    []string `json:"tools"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "targetId is required")
		return
	}

	id, err := s.engine.StartScan(r.Context(), req.TargetID, req.Tools)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"scanId": id})
	case errors.Is(err, target.ErrInvalidTarget):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "scanId": id})
	case errors.Is(err, orchestration.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.WithError(err).Error("Failed to start scan")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleListScans answers GET /api/v1/scans, optionally narrowed by the
// status and target query parameters.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	status := models.SessionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	targetID := r.URL.Query().Get("target")

	sessions := s.engine.ListSessions()
	out := make([]models.SessionSummary, 0, len(sessions))
	for i := range sessions {
		if status != "" && sessions[i].Status != status {
			continue
		}
		if targetID != "" && sessions[i].TargetID != targetID {
			continue
		}
		out = append(out, sessions[i].Summary())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scans": out})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"summary": s.summaries.Build(session),
	})
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelScan(chi.URLParam(r, "id")); err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type registerTargetRequest struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

func (s *Server) handleRegisterTarget(w http.ResponseWriter, r *http.Request) {
	if s.targets == nil {
		writeError(w, http.StatusNotImplemented, "direct scan registration is not available")
		return
	}
	var req registerTargetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if err := s.targets.RegisterDirect(req.ID, req.Path); err != nil {
		if errors.Is(err, target.ErrInvalidTarget) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"targetId": req.ID})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := []bridge.ToolInfo{}
	if s.tools != nil {
		tools = s.tools.Availability(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestration.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
