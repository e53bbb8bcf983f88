package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/database"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/metrics"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Metrics     config.MetricsConfig
	Logger      *logging.Logger
	DB          *database.DB
	Users       auth.UserRepository
	Store       auth.SessionRepository
	Sessions    *auth.Sessions
	Coordinator *shutdown.Coordinator
	Audit       audit.Repository     // optional
	Collector   *metrics.Collector   // optional
	MQTT        *mqtt.Client         // optional, reported in internal metrics
	Events      *mqtt.EventPublisher // optional, drop count reported in internal metrics
	Version     string
}

// Server is the HTTP API server for Gatekeeper.
//
// It manages the HTTP listener, routes, middleware, the audit writer and
// the reaction to shutdown requests. The server is created with New() and
// started with Start().
type Server struct {
	cfg         config.APIConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	db          *database.DB
	users       auth.UserRepository
	store       auth.SessionRepository
	sessions    *auth.Sessions
	registry    *auth.Registry
	coordinator *shutdown.Coordinator
	auditRepo   audit.Repository
	collector   *metrics.Collector
	mqtt        *mqtt.Client
	events      *mqtt.EventPublisher
	version     string
	startTime   time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops the audit writer

	// auditCh buffers audit entries for the single writer goroutine.
	auditCh   chan *audit.AuditLog
	auditDone chan struct{}

	done      chan struct{} // closed when Serve returns
	serveErr  error
	closeOnce sync.Once
	closeErr  error
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil || deps.Store == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("user and session stores are required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("shutdown coordinator is required")
	}

	return &Server{
		cfg:         deps.Config,
		metricsCfg:  deps.Metrics,
		logger:      deps.Logger,
		db:          deps.DB,
		users:       deps.Users,
		store:       deps.Store,
		sessions:    deps.Sessions,
		registry:    deps.Sessions.Registry(),
		coordinator: deps.Coordinator,
		auditRepo:   deps.Audit,
		collector:   deps.Collector,
		mqtt:        deps.MQTT,
		events:      deps.Events,
		version:     deps.Version,
		startTime:   time.Now(),
		done:        make(chan struct{}),
	}, nil
}

// Start binds the listener and begins serving in a background goroutine.
//
// It also starts the audit writer and subscribes to the shutdown
// coordinator: Graceful drains in-flight requests within
// api.shutdown_timeout, Immediate closes every connection. An Immediate
// request during a graceful drain escalates to Close.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}
	s.listener = ln

	// Background work outlives ctx; Close ends it once the listener is down.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.auditDone = make(chan struct{})
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
		go s.drainAuditLog(srvCtx)
	} else {
		close(s.auditDone)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	stop, unsubscribe := s.coordinator.Subscribe()
	go s.watchShutdown(ctx, stop, unsubscribe)

	go func() {
		defer close(s.done)
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.serveErr = err
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done is closed once the listener has stopped serving.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the listener stops and returns its failure, if any.
// A requested stop is not a failure.
func (s *Server) Wait() error {
	<-s.done
	return s.serveErr
}

// watchShutdown applies the first stop request to the listener. Ending
// ctx counts as a graceful request. Later requests can still escalate
// a drain to Immediate.
func (s *Server) watchShutdown(ctx context.Context, stop <-chan shutdown.Mode, unsubscribe func()) {
	defer unsubscribe()

	var mode shutdown.Mode
	select {
	case m, ok := <-stop:
		mode = shutdown.Receive(m, ok)
	case <-ctx.Done():
		mode = shutdown.Graceful
	case <-s.done:
		return
	}

	if mode == shutdown.Immediate {
		s.logger.Warn("immediate stop requested, closing listener")
		s.closeNow()
		return
	}

	s.logger.Info("graceful stop requested, draining connections", "timeout", s.shutdownTimeout())
	drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	drained := make(chan error, 1)
	go func() { drained <- s.server.Shutdown(drainCtx) }()

	for {
		select {
		case err := <-drained:
			if err != nil {
				s.logger.Warn("graceful drain did not finish, closing listener", "error", err)
				s.closeNow()
			}
			return
		case m, ok := <-stop:
			if !ok {
				stop = nil
			}
			if shutdown.Receive(m, ok) == shutdown.Immediate {
				s.logger.Warn("immediate stop requested during drain, closing listener")
				s.closeNow()
			}
		}
	}
}

func (s *Server) closeNow() {
	if err := s.server.Close(); err != nil {
		s.logger.Warn("closing API listener", "error", err)
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	return s.cfg.DrainTimeout()
}

// Close gracefully shuts down the API server.
//
// It drains in-flight requests within api.shutdown_timeout unless the
// listener has already stopped, then flushes pending audit entries.
// Calling Close more than once returns the first result.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.closeOnce.Do(func() {
		select {
		case <-s.done:
		default:
			ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
			defer cancel()

			s.logger.Info("API server shutting down")
			if err := s.server.Shutdown(ctx); err != nil {
				s.closeErr = fmt.Errorf("shutting down API server: %w", err)
				s.closeNow()
			}
			<-s.done
		}

		// Stop background goroutines once no handler can enqueue audit entries
		s.cancel()
		<-s.auditDone
	})

	return s.closeErr
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
	select {
	case <-s.done:
		return fmt.Errorf("api server stopped")
	default:
	}

	return nil
}
