package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
	"github.com/allokapri/workspace-core/internal/infrastructure/config"
	"github.com/allokapri/workspace-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Users    auth.UserRepository
	Issuer   *auth.TokenIssuer
	Sessions *auth.SessionStore
	Audit    audit.Repository // optional

	// Events receives auth events for MQTT fan-out. Optional; leave nil
	// rather than passing a nil *mqtt.Client.
	Events EventPublisher
	// TimeSeries records auth events and sweeps. Optional, same rule as Events.
	TimeSeries TimeSeriesWriter

	// Health lists the dependencies reported by /health.
	Health []Dependency

	// SweepInterval enables the expired-session sweeper when positive.
	SweepInterval time.Duration
	Version       string
}

// Server is the HTTP API server of the workspace core.
//
// It is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	users      auth.UserRepository
	verifier   *auth.Verifier
	issuer     *auth.TokenIssuer
	authn      *auth.Authenticator
	sessions   *auth.SessionStore
	auditRepo  audit.Repository
	auditCh    chan *audit.Log
	events     EventPublisher
	eventCh    chan eventMessage
	timeSeries TimeSeriesWriter
	metrics    *metrics
	limiter    *loginLimiter
	sweepEvery time.Duration
	version    string

	health []Dependency

	server *http.Server

	// Producers (sweeper, limiter cleanup) stop before the audit and event
	// drains so nothing they record is enqueued after the final flush.
	stopProducers context.CancelFunc
	producers     sync.WaitGroup
	stopDrains    context.CancelFunc
	drains        sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. New registers the
// server as the session store's sweep observer.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	s := &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger.With("component", "api"),
		users:      deps.Users,
		verifier:   auth.NewVerifier(deps.Users),
		issuer:     deps.Issuer,
		authn:      auth.NewAuthenticator(deps.Issuer, deps.Users),
		sessions:   deps.Sessions,
		auditRepo:  deps.Audit,
		events:     deps.Events,
		timeSeries: deps.TimeSeries,
		metrics:    newMetrics(),
		limiter:    newLoginLimiter(deps.Security.RateLimit),
		sweepEvery: deps.SweepInterval,
		version:    deps.Version,
		health:     deps.Health,
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Log, auditChanSize)
	}
	if s.events != nil {
		s.eventCh = make(chan eventMessage, eventChanSize)
	}

	s.sessions.SetSweepObserver(s)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It launches the background workers (audit drain, event fan-out, session
// sweeper, rate-limiter cleanup) and the HTTP listener. The server is
// stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the background workers
//
// Returns:
//   - error: Always nil; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	s.startWorkers(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
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

// startWorkers launches the background goroutines under ctx. stopWorkers
// ends them.
func (s *Server) startWorkers(ctx context.Context) {
	drainCtx, stopDrains := context.WithCancel(ctx)
	prodCtx, stopProducers := context.WithCancel(ctx)
	s.stopDrains, s.stopProducers = stopDrains, stopProducers

	if s.auditCh != nil {
		s.drains.Go(func() { s.drainAuditLog(drainCtx) })
	}
	if s.eventCh != nil {
		s.drains.Go(func() { s.drainEvents(drainCtx) })
	}
	if s.limiter != nil {
		s.producers.Go(func() { s.limiter.run(prodCtx, limiterSweepInterval) })
	}
	if s.sweepEvery > 0 {
		s.producers.Go(func() { s.sessions.RunSweeper(prodCtx, s.sweepEvery) })
	}
}

// stopWorkers waits for the producers first, then lets the drains flush
// whatever the producers queued.
func (s *Server) stopWorkers() {
	if s.stopProducers != nil {
		s.stopProducers()
	}
	s.producers.Wait()
	if s.stopDrains != nil {
		s.stopDrains()
	}
	s.drains.Wait()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then stops
// the background workers. Pending audit entries are flushed before Close
// returns, so the database can be closed afterwards.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	s.stopWorkers()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
