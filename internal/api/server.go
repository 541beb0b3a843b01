// Package api provides the REST and WebSocket server for agentco.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mushimuro/agent-company/internal/config"
	"github.com/mushimuro/agent-company/internal/coordinator"
	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/metrics"
	"github.com/mushimuro/agent-company/internal/review"
)

// Server is the agentco API server.
type Server struct {
	cfg    *config.Config
	db     *db.DB
	coord  *coordinator.Coordinator
	gate   *review.Gate
	bus    events.Bus
	mux    *http.ServeMux
	logger *slog.Logger

	wsHandler *WSHandler
}

// New creates an API server over already-assembled components.
func New(cfg *config.Config, d *db.DB, coord *coordinator.Coordinator, gate *review.Gate, bus events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		db:     d,
		coord:  coord,
		gate:   gate,
		bus:    bus,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.wsHandler = NewWSHandler(bus, d, cfg.Auth, logger)
	s.registerRoutes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.cors(s.instrument(s.authenticate(h)))
	}

	// Health and metrics
	s.mux.HandleFunc("GET /api/health", s.cors(s.handleHealth))
	s.mux.Handle("GET /metrics", metrics.Handler())

	// Projects
	s.mux.HandleFunc("GET /api/projects", wrap(s.handleListProjects))
	s.mux.HandleFunc("POST /api/projects", wrap(s.handleCreateProject))
	s.mux.HandleFunc("GET /api/projects/{id}", wrap(s.handleGetProject))
	s.mux.HandleFunc("PUT /api/projects/{id}", wrap(s.handleUpdateProject))
	s.mux.HandleFunc("DELETE /api/projects/{id}", wrap(s.handleDeleteProject))
	s.mux.HandleFunc("GET /api/projects/{id}/writable-roots", wrap(s.handleGetWritableRoots))
	s.mux.HandleFunc("PUT /api/projects/{id}/writable-roots", wrap(s.handleSetWritableRoots))

	// Project tasks and graph
	s.mux.HandleFunc("GET /api/projects/{id}/tasks", wrap(s.handleListProjectTasks))
	s.mux.HandleFunc("POST /api/projects/{id}/tasks", wrap(s.handleCreateProjectTask))
	s.mux.HandleFunc("GET /api/projects/{id}/graph", wrap(s.handleGetGraph))

	// Project execution
	s.mux.HandleFunc("POST /api/projects/{id}/execute-all-tasks", wrap(s.handleExecuteAllTasks))
	s.mux.HandleFunc("GET /api/projects/{id}/execution-status", wrap(s.handleExecutionStatus))
	s.mux.HandleFunc("POST /api/projects/{id}/cancel-all", wrap(s.handleCancelAll))
	s.mux.HandleFunc("POST /api/projects/{id}/retry-failed", wrap(s.handleRetryFailed))
	s.mux.HandleFunc("GET /api/projects/{id}/attempts", wrap(s.handleListProjectAttempts))

	// Project chat relay
	s.mux.HandleFunc("POST /api/projects/{id}/chat", wrap(s.handlePostChat))

	// Tasks
	s.mux.HandleFunc("GET /api/tasks/ready", wrap(s.handleReadyTasks))
	s.mux.HandleFunc("GET /api/tasks/{id}", wrap(s.handleGetTask))
	s.mux.HandleFunc("PUT /api/tasks/{id}", wrap(s.handleUpdateTask))
	s.mux.HandleFunc("PATCH /api/tasks/{id}", wrap(s.handleUpdateTask))
	s.mux.HandleFunc("DELETE /api/tasks/{id}", wrap(s.handleDeleteTask))
	s.mux.HandleFunc("GET /api/tasks/{id}/dependencies-status", wrap(s.handleDependenciesStatus))
	s.mux.HandleFunc("POST /api/tasks/{id}/start", wrap(s.handleStartTask))
	s.mux.HandleFunc("GET /api/tasks/{id}/attempts", wrap(s.handleListTaskAttempts))

	// Attempts and review
	s.mux.HandleFunc("GET /api/attempts/{id}", wrap(s.handleGetAttempt))
	s.mux.HandleFunc("GET /api/attempts/{id}/events", wrap(s.handleListAttemptEvents))
	s.mux.HandleFunc("POST /api/attempts/{id}/approve", wrap(s.handleApproveAttempt))
	s.mux.HandleFunc("POST /api/attempts/{id}/reject", wrap(s.handleRejectAttempt))
	s.mux.HandleFunc("POST /api/attempts/{id}/cancel", wrap(s.handleCancelAttempt))

	// WebSocket for real-time updates
	s.mux.Handle("GET /ws/project/{id}", s.wsHandler)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.wsHandler.Close()
	}()

	s.logger.Info("starting API server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"status": "ok"})
}

// cors applies the CORS policy from configuration.
func (s *Server) cors(h http.HandlerFunc) http.HandlerFunc {
	origin := "*"
	if len(s.cfg.Server.AllowedOrigins) == 1 {
		origin = s.cfg.Server.AllowedOrigins[0]
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

// instrument records request latency by method and status class.
func (s *Server) instrument(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.HTTPDuration.
			WithLabelValues(r.Method, strconv.Itoa(rec.status/100*100)).
			Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
