package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/ota-core/internal/audit"
	"github.com/nerrad567/ota-core/internal/device"
	"github.com/nerrad567/ota-core/internal/group"
	"github.com/nerrad567/ota-core/internal/infrastructure/config"
	"github.com/nerrad567/ota-core/internal/infrastructure/database"
	"github.com/nerrad567/ota-core/internal/infrastructure/logging"
	"github.com/nerrad567/ota-core/internal/infrastructure/metrics"
	"github.com/nerrad567/ota-core/internal/packages"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by optional infrastructure clients
// (MQTT, InfluxDB) whose state is reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	DB       *database.DB
	Groups   *group.Service
	Devices  device.Repository
	Packages packages.Repository
	Audit    audit.Repository
	Metrics  *metrics.Metrics

	// Components are reported by /api/v1/health, keyed by name. Optional.
	Components map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for OTA Core.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	db         *database.DB
	groups     *group.Service
	devices    device.Repository
	packages   packages.Repository
	auditRepo  audit.Repository
	metrics    *metrics.Metrics
	components map[string]HealthChecker
	version    string
	startTime  time.Time
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, database, group service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Groups == nil {
		return nil, fmt.Errorf("group service is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		db:         deps.DB,
		groups:     deps.Groups,
		devices:    deps.Devices,
		packages:   deps.Packages,
		auditRepo:  deps.Audit,
		metrics:    deps.Metrics,
		components: deps.Components,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	// Repositories default to the shared database.
	if s.devices == nil {
		s.devices = device.NewSQLiteRepository(deps.DB)
	}
	if s.packages == nil {
		s.packages = packages.NewSQLiteRepository(deps.DB)
	}
	if s.auditRepo == nil {
		s.auditRepo = audit.NewSQLiteRepository(deps.DB)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(config.MetricsConfig{Enabled: false})
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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
