// Package server exposes runs, schedules and settings over HTTP and streams
// run events to WebSocket clients.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/pulse/execution"
	"github.com/teranos/rankpulse/pulse/schedule"
	"github.com/teranos/rankpulse/settings"
)

// Deps are the collaborators a Server is built from. Ticker may be nil when
// the polling loop runs in another process.
type Deps struct {
	Runs         *execution.Store
	Orchestrator *execution.Orchestrator
	Schedules    *schedule.Store
	Settings     *settings.Store
	Ticker       *schedule.Ticker
	Config       *am.Config
	Logger       *zap.SugaredLogger
}

// Server is the rankpulse HTTP API
type Server struct {
	runs         *execution.Store
	orchestrator *execution.Orchestrator
	schedules    *schedule.Store
	settings     *settings.Store
	ticker       *schedule.Ticker
	cfg          *am.Config
	hub          *Hub
	logger       *zap.SugaredLogger
	startedAt    time.Time

	// memoryStats is replaced in tests
	memoryStats func() (*MemoryStats, error)

	mu         sync.Mutex
	httpServer *http.Server
	hubOnce    sync.Once
}

// New creates a server and attaches its hub to the orchestrator as the run
// event broadcaster.
func New(deps Deps) (*Server, error) {
	if deps.Runs == nil || deps.Orchestrator == nil || deps.Schedules == nil || deps.Settings == nil {
		return nil, errors.New("server requires run store, orchestrator, schedule store and settings store")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &am.Config{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.ComponentLogger("server")
	}

	s := &Server{
		runs:         deps.Runs,
		orchestrator: deps.Orchestrator,
		schedules:    deps.Schedules,
		settings:     deps.Settings,
		ticker:       deps.Ticker,
		cfg:          cfg,
		hub:          NewHub(cfg.Server.AllowedOrigins, log.Named("ws")),
		logger:       log,
		startedAt:    time.Now(),
		memoryStats:  hostMemory,
	}
	s.orchestrator.SetBroadcaster(s.hub)
	return s, nil
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed API with CORS and request logging applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/runs", s.handleListRunning)
	mux.HandleFunc("GET /api/runs/history", s.handleRunHistory)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs", s.handleTriggerRun)
	mux.HandleFunc("POST /api/runs/{id}/stop", s.handleStopRun)

	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PATCH /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDisableSchedule)

	mux.HandleFunc("GET /api/settings/timezone", s.handleGetTimezone)
	mux.HandleFunc("PUT /api/settings/timezone", s.handleSetTimezone)

	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.corsMiddleware(s.logRequests(mux))
}

// corsMiddleware adds CORS headers for allowed origins and answers preflight
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, s.cfg.Server.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs each API call at debug level
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := logger.WithRequestID(r.Context(), reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
		logger.FromContext(ctx, s.logger).Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// Start starts the hub and serves on addr until Shutdown. It returns once
// the listener is bound.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to listen on %s", addr),
			"set server.port in am.toml or stop the process holding the port")
	}

	s.startHub()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("HTTP server stopped", logger.FieldError, err)
		}
	}()

	s.logger.Infow("Server ready", logger.FieldURL, fmt.Sprintf("http://%s", ln.Addr()))
	return ln.Addr(), nil
}

func (s *Server) startHub() {
	s.hubOnce.Do(func() {
		go s.hub.Run()
	})
}

// Shutdown stops accepting requests and closes WebSocket clients. Runs are
// not touched; the caller shuts the orchestrator down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	s.hub.Stop()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down HTTP server")
	}
	s.logger.Infow("Server stopped")
	return nil
}
