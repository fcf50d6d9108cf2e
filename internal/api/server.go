package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tasmota-bridge/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// requestTimeout bounds handlers that call the gateway or the broker.
const requestTimeout = 30 * time.Second

// Bridge is the part of the Tasmota bridge the API drives.
type Bridge interface {
	ConnectionState() tasmota.ConnState
	Reconfigure(ctx context.Context, broker settings.Broker) error
	Control(ctx context.Context, mac string, cmd tasmota.Command) error
}

// Mirror is the operator side of the gateway mirror.
type Mirror interface {
	Mirrored(ctx context.Context) (map[string]string, error)
	SyncOne(ctx context.Context, mac string) error
	SyncAll(ctx context.Context) (int, error)
	Unsync(ctx context.Context, mac string) error
}

// Settings is the persisted operator configuration.
type Settings interface {
	Broker(ctx context.Context) (settings.Broker, error)
	AutoSync(ctx context.Context) (bool, error)
	SetAutoSync(ctx context.Context, enabled bool) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Bridge   Bridge
	Mirror   Mirror
	Settings Settings
	Hub      *Hub // If set, the server uses this hub instead of creating its own
	Version  string
}

// Server is the operator HTTP server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	registry *device.Registry
	bridge   Bridge
	mirror   Mirror
	settings Settings
	version  string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		registry: deps.Registry,
		bridge:   deps.Bridge,
		mirror:   deps.Mirror,
		settings: deps.Settings,
		version:  deps.Version,
		hub:      deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, which also serves as a notify.Notifier.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening in a background goroutine.
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
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close waits up to gracefulShutdownTimeout for in-flight requests, then
// closes the remaining connections.
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

// HealthCheck reports whether the server was started.
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
