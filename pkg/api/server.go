package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/config"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/metrics"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/media/validate"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
	"github.com/CodecFlow/codecflow/pkg/storage"
)

// Server is the HTTP front of the job service.
type Server struct {
	cfg       *config.Config
	db        *jobstore.Database
	registry  *storage.Registry
	sched     *scheduler.Scheduler
	hub       *events.Hub
	sse       *events.SSEStreamer
	ws        *events.WSStreamer
	validator *validate.Validator
	metrics   *metrics.Metrics
	logger    *logging.Logger
	retention time.Duration

	router     *mux.Router
	httpServer *http.Server
}

func NewServer(cfg *config.Config, db *jobstore.Database, registry *storage.Registry,
	sched *scheduler.Scheduler, hub *events.Hub, m *metrics.Metrics, logger *logging.Logger) *Server {

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithComponent("api")

	s := &Server{
		cfg:       cfg,
		db:        db,
		registry:  registry,
		sched:     sched,
		hub:       hub,
		sse:       events.NewSSEStreamer(hub, db, logger),
		ws:        events.NewWSStreamer(hub, db, logger),
		validator: validate.NewValidator(cfg.Jobs.MaxOperations, logger),
		metrics:   m,
		logger:    logger,
		retention: cfg.Jobs.Retention,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.observeMiddleware)

	router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		router.Handle(s.cfg.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/convert", s.handleConvert).Methods(http.MethodPost)
	v1.HandleFunc("/batch", s.handleBatch).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods(http.MethodDelete)
	v1.HandleFunc("/jobs/{id}/events", s.handleJobEvents).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/ws", s.handleJobWS).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/logs", s.handleJobLogs).Methods(http.MethodGet)

	v1.HandleFunc("/admin/stats", s.adminOnly(s.handleAdminStats)).Methods(http.MethodGet)
	v1.HandleFunc("/admin/cleanup", s.adminOnly(s.handleAdminCleanup)).Methods(http.MethodPost)

	return router
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown runs. The
// connection count is capped at the configured maximum.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	if s.cfg.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.Server.MaxConnections)
	}

	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout stays zero by default: SSE and websocket
		// responses are open-ended.
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("api server listening", map[string]interface{}{
		"addr": s.cfg.ListenAddr(),
	})
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
