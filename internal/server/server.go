// Package server ties the transport manager to the dispatch core: it owns the
// capability registry, the connection-activity table and the whole-server
// lifecycle state machine.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/config"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/logging"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/metrics"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/middleware"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/transport"
)

// ErrAlreadyRunning is returned by Start when the server is not stopped.
var ErrAlreadyRunning = errors.New("server already running")

// AdapterFactory builds the channel adapters for one server run. The factory
// runs on every Start so a stop/start cycle gets fresh transports while the
// capability registry survives.
type AdapterFactory func(cfg *config.Config, logger *logging.Logger, sink metrics.Sink) []transport.Adapter

// Server is the dispatch core plus lifecycle management.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger
	sink   metrics.Sink

	adapterFactory AdapterFactory

	regMu     sync.RWMutex
	tools     map[string]*toolRegistration
	resources map[string]*resourceRegistration

	actMu    sync.RWMutex
	activity map[string]*ConnectionActivity

	stateMu   sync.Mutex
	state     State
	manager   *transport.Manager
	runCtx    context.Context
	runCancel context.CancelFunc
	startedAt time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsSink overrides the metrics sink.
func WithMetricsSink(sink metrics.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithAdapterFactory overrides how channel adapters are built per run.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(s *Server) { s.adapterFactory = f }
}

// NewServer creates a stopped server from configuration.
func NewServer(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:            cfg,
		logger:         logging.Default(),
		sink:           metrics.NopSink{},
		adapterFactory: DefaultAdapters,
		tools:          make(map[string]*toolRegistration),
		resources:      make(map[string]*resourceRegistration),
		activity:       make(map[string]*ConnectionActivity),
		state:          StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultAdapters builds the configured channel adapters: websocket, then
// http, then stdio.
func DefaultAdapters(cfg *config.Config, logger *logging.Logger, sink metrics.Sink) []transport.Adapter {
	var adapters []transport.Adapter

	if cfg.WebSocket.Enabled {
		wsAdapter := transport.NewWebSocketAdapter(&transport.WebSocketConfig{
			Address:          cfg.WebSocket.Address,
			Path:             cfg.WebSocket.Path,
			MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
			ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
			WriteTimeout:     cfg.WebSocket.WriteTimeout,
			PingInterval:     cfg.WebSocket.PingInterval,
			PongTimeout:      cfg.WebSocket.PongTimeout,
			ServerName:       cfg.Server.Name,
		}, logger)
		wsAdapter.SetFrameSink(sink)
		adapters = append(adapters, wsAdapter)
	}

	if cfg.HTTP.Enabled {
		httpAdapter := transport.NewHTTPAdapter(&transport.HTTPConfig{
			Address:         cfg.HTTP.Address,
			Path:            cfg.HTTP.Path,
			MaxBodySize:     cfg.HTTP.MaxBodySize,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			IdleTimeout:     cfg.HTTP.IdleTimeout,
			ExchangeTimeout: cfg.HTTP.ExchangeTimeout,
			ServerName:      cfg.Server.Name,
		}, logger)
		httpAdapter.SetFrameSink(sink)

		if cfg.Middleware.CORS.Enabled {
			cors := middleware.NewCORSMiddleware(middleware.CORSConfig{
				AllowedOrigins: cfg.Middleware.CORS.AllowedOrigins,
			})
			httpAdapter.Use(cors.Handler)
		}
		if cfg.Middleware.RateLimit.Enabled {
			limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
				RequestsPerSecond: cfg.Middleware.RateLimit.RequestsPerSecond,
				Burst:             cfg.Middleware.RateLimit.Burst,
			})
			httpAdapter.Use(limiter.Handler)
		}
		if cfg.Metrics.Enabled {
			if prom, ok := sink.(*metrics.PrometheusSink); ok {
				httpAdapter.Handle(cfg.Metrics.Path, prom.Handler())
			}
		}

		adapters = append(adapters, httpAdapter)
	}

	if cfg.Stdio.Enabled {
		stdioAdapter := transport.NewStdioAdapter(&transport.StdioConfig{
			Delimiter: cfg.Stdio.Delimiter,
		}, logger)
		stdioAdapter.SetFrameSink(sink)
		adapters = append(adapters, stdioAdapter)
	}

	return adapters
}

// Start builds and starts the configured transports. Startup is
// all-or-nothing: any channel failure tears down the channels already
// started and leaves the server stopped.
func (s *Server) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != StateStopped {
		return fmt.Errorf("%w (state: %s)", ErrAlreadyRunning, s.state)
	}
	s.state = StateStarting

	manager := transport.NewManager(s.logger)
	for _, a := range s.adapterFactory(s.cfg, s.logger, s.sink) {
		if err := manager.Register(a); err != nil {
			s.state = StateStopped
			return err
		}
		if ha, ok := a.(*transport.HTTPAdapter); ok {
			ha.SetHealthInfo(func() map[string]interface{} {
				return map[string]interface{}{
					"uptime":      s.Uptime().Seconds(),
					"connections": s.ConnectionCount(),
				}
			})
		}
	}
	manager.OnMessage(s.handleMessage)
	manager.OnLifecycle(s.handleLifecycle)

	runCtx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		cancel()
		s.state = StateStopped
		return err
	}

	s.manager = manager
	s.runCtx = runCtx
	s.runCancel = cancel
	s.startedAt = time.Now()
	s.state = StateRunning

	s.logger.Info("server started",
		"name", s.cfg.Server.Name,
		"channels", manager.ChannelNames(),
	)
	return nil
}

// Stop stops every channel and abandons in-flight dispatches. A stop on a
// stopped server is a no-op. The capability registry is left intact so the
// server can be started again.
func (s *Server) Stop() {
	s.stateMu.Lock()
	if s.state != StateRunning {
		s.stateMu.Unlock()
		return
	}
	s.state = StateStopping
	manager := s.manager
	cancel := s.runCancel
	s.manager = nil
	s.runCtx = nil
	s.runCancel = nil
	s.stateMu.Unlock()

	manager.Stop()
	cancel()

	s.actMu.Lock()
	s.activity = make(map[string]*ConnectionActivity)
	s.actMu.Unlock()

	s.stateMu.Lock()
	s.state = StateStopped
	s.stateMu.Unlock()

	s.logger.Info("server stopped")
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// ConnectionCount reports live connections across all channels.
func (s *Server) ConnectionCount() int {
	s.stateMu.Lock()
	manager := s.manager
	s.stateMu.Unlock()
	if manager == nil {
		return 0
	}
	return manager.ConnectionCount()
}

// Manager exposes the running transport manager, nil when stopped.
func (s *Server) Manager() *transport.Manager {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.manager
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateRunning {
		return 0
	}
	return time.Since(s.startedAt)
}
