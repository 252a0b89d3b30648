package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/queue"
	"github.com/mimir-aip/prognosis-go/pkg/scheduler"
	"github.com/mimir-aip/prognosis-go/pkg/studies"
	"github.com/mimir-aip/prognosis-go/pkg/telemetry"
)

// Server provides HTTP API endpoints
type Server struct {
	queue  *queue.Queue
	port   string
	mux    *http.ServeMux
	http   *http.Server
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(q *queue.Queue, svc *studies.Service, schedules *scheduler.Service, reg *plugins.Registry, port string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:  q,
		port:   port,
		mux:    http.NewServeMux(),
		logger: logger.Named("api"),
	}

	s.registerRoutes(NewStudyHandler(svc, schedules), NewPluginHandler(reg), NewScheduleHandler(schedules))
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// registerRoutes sets up the HTTP routes
func (s *Server) registerRoutes(studyHandler *StudyHandler, pluginHandler *PluginHandler, scheduleHandler *ScheduleHandler) {
	s.handle("/health", s.handleHealth)
	s.handle("/ready", s.handleReady)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.handle("/api/plugins", pluginHandler.HandlePlugins)
	s.handle("/api/studies", studyHandler.HandleStudies)
	s.handle("/api/studies/", studyHandler.HandleStudy)
	s.handle("/api/schedules", scheduleHandler.HandleSchedules)
	s.handle("/api/schedules/", scheduleHandler.HandleSchedule)
}

// handle registers a handler that counts its responses by route and status
func (s *Server) handle(route string, h http.HandlerFunc) {
	s.mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		telemetry.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// Handler returns the server's routes wrapped in logging and panic recovery
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.errorRecoveryMiddleware(s.mux))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ready",
		"queue_length": s.queue.QueueLength(),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP status codes
func writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, metadatastore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, studies.ErrStudyExists),
		errors.Is(err, studies.ErrStudyActive),
		errors.Is(err, studies.ErrStudyNotActive),
		errors.Is(err, studies.ErrNoModel),
		errors.Is(err, queue.ErrAlreadyQueued),
		errors.Is(err, queue.ErrExecuting):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}
