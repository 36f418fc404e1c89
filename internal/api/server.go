package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/bridges/window"
	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// sessionEventBuffer sizes the subscription used for the WebSocket relay.
const sessionEventBuffer = 64

// DeviceSession is the part of the session client the API uses.
type DeviceSession interface {
	State() siegenia.ConnectionState
	Stats() siegenia.Stats
	URL() string
	Subscribe(buffer int) (<-chan siegenia.Event, func())
	GetDeviceInfo(ctx context.Context) (*siegenia.Response, error)
	GetDeviceParams(ctx context.Context) (*siegenia.Response, error)
	SetDeviceParams(ctx context.Context, params any) (*siegenia.Response, error)
	GetDeviceState(ctx context.Context) (*siegenia.Response, error)
	RebootDevice(ctx context.Context) (*siegenia.Response, error)
	ResetDevice(ctx context.Context) (*siegenia.Response, error)
	RenewCert(ctx context.Context) (*siegenia.Response, error)
}

// WindowController is the part of the window bridge the API uses.
type WindowController interface {
	DeviceID() string
	Ready() bool
	State() (window.WindowState, error)
	SetTargetPosition(ctx context.Context, position int) error
	Do(ctx context.Context, action string) error
	OnStateChange(fn func(state window.WindowState, source string))
}

// HistoryReader reads recorded window states.
type HistoryReader interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]history.Entry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Session  DeviceSession
	Window   WindowController
	History  HistoryReader // optional; /history answers 503 without it
	Version  string
}

// Server is the HTTP API server.
//
// It owns the HTTP listener, the routes and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	session DeviceSession
	window  WindowController
	history HistoryReader
	version string
	started time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (config, logger, session, window)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("device session is required")
	}
	if deps.Window == nil {
		return nil, fmt.Errorf("window controller is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger.Component("api"),
		session: deps.Session,
		window:  deps.Window,
		history: deps.History,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger.Component("websocket")),
		started: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays session events and window state
// changes to it, and launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.startRelay(srvCtx)

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
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
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

// startRelay runs the hub and feeds it session events and window state
// changes until ctx is cancelled.
func (s *Server) startRelay(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()

	events, unsubscribe := s.session.Subscribe(sessionEventBuffer)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.relaySessionEvents(ctx, events)
	}()

	s.window.OnStateChange(func(state window.WindowState, source string) {
		s.hub.Broadcast(ChannelWindowState, windowStatePayload{
			DeviceID:    s.window.DeviceID(),
			WindowState: state,
			Source:      source,
		})
	})
}

// relaySessionEvents forwards session events to WebSocket subscribers until
// ctx is cancelled or the subscription ends.
func (s *Server) relaySessionEvents(ctx context.Context, events <-chan siegenia.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == siegenia.EventMessage {
				s.hub.Broadcast(ChannelDeviceMessage, ev.Message)
				continue
			}
			s.hub.Broadcast(ChannelSessionEvent, sessionEventPayload(ev))
		}
	}
}
