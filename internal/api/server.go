package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/sessiond/internal/audit"
	"github.com/nerrad567/sessiond/internal/auth"
	"github.com/nerrad567/sessiond/internal/infrastructure/config"
	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Version   string

	Manager     *auth.Manager
	Issuer      *auth.Issuer
	Stamp       *auth.StampValidator
	Admin       *auth.Admin
	Directory   auth.Directory
	Coordinator *auth.Coordinator
	Audit       audit.Repository
	Events      auth.EventRecorder // optional: receives login failures

	// Checks are reported by GET /health. A failing "database" check
	// marks the service unhealthy; the others only degrade it.
	Checks map[string]HealthChecker
}

// Server is the HTTP API server for sessiond.
//
// It manages the HTTP listener, routes, middleware, and the session-event
// WebSocket hub. The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	version     string
	manager     *auth.Manager
	issuer      *auth.Issuer
	stamp       *auth.StampValidator
	admin       *auth.Admin
	directory   auth.Directory
	coordinator *auth.Coordinator
	audit       audit.Repository
	events      auth.EventRecorder
	checks      map[string]HealthChecker

	hub     *Hub
	tickets *ticketStore
	limiter *ipRateLimiter
	server  *http.Server
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The hub is subscribed to the coordinator here so revocations are pushed
// to connected clients as soon as the server starts.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Manager == nil:
		return nil, fmt.Errorf("lifecycle manager is required")
	case deps.Issuer == nil:
		return nil, fmt.Errorf("issuer is required")
	case deps.Stamp == nil:
		return nil, fmt.Errorf("stamp validator is required")
	case deps.Admin == nil:
		return nil, fmt.Errorf("admin is required")
	case deps.Directory == nil:
		return nil, fmt.Errorf("directory is required")
	case deps.Coordinator == nil:
		return nil, fmt.Errorf("revocation coordinator is required")
	case deps.Audit == nil:
		return nil, fmt.Errorf("audit repository is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		version:     deps.Version,
		manager:     deps.Manager,
		issuer:      deps.Issuer,
		stamp:       deps.Stamp,
		admin:       deps.Admin,
		directory:   deps.Directory,
		coordinator: deps.Coordinator,
		audit:       deps.Audit,
		events:      deps.Events,
		checks:      deps.Checks,
		tickets:     newTicketStore(),
		limiter:     newIPRateLimiter(deps.RateLimit),
	}
	if s.events == nil {
		s.events = auth.MultiRecorder{}
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	s.coordinator.OnRevocation(s.hub.NotifyRevocation)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket and rate limiter sweepers,
// then launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	go s.limiter.sweepLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the session-event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
