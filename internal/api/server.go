package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the script engine surface served over HTTP.
// Satisfied by *engine.Engine.
type Engine interface {
	ExecuteAsync(ctx context.Context, req engine.Request) error
	ExecuteSync(ctx context.Context, req engine.Request) (int, error)
	ExecuteWebRequest(ctx context.Context, path string, w http.ResponseWriter, r *http.Request) int
	SupportsScript(path string) bool
	CheckSessionID(ctx context.Context, id string) bool
	ListScripts() ([]string, error)
	Stats() engine.Stats
}

// DeviceCatalog is the device registry surface. Satisfied by *device.Registry.
type DeviceCatalog interface {
	ListDevices() []device.Device
	GetDevice(ctx context.Context, id uint64) (*device.Device, error)
	AddDevice(ctx context.Context, d *device.Device) (bool, error)
	RemoveDevice(ctx context.Context, id uint64) error
}

// HealthChecker is implemented by optional infrastructure such as the MQTT
// client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	WebRoot string
	Logger  *logging.Logger
	Engine  Engine
	Router  *events.Router
	Devices DeviceCatalog
	MQTT    HealthChecker // optional
	DB      *sql.DB       // optional, for pool metrics
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	webRoot   string
	logger    *logging.Logger
	engine    Engine
	router    *events.Router
	devices   DeviceCatalog
	mqtt      HealthChecker
	db        *sql.DB
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("event router is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device catalog is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		webRoot:   deps.WebRoot,
		logger:    deps.Logger,
		engine:    deps.Engine,
		router:    deps.Router,
		devices:   deps.Devices,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

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

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests. WebSocket clients are disconnected first.
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
