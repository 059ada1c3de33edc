package transport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/logging"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// HTTPConfig contains configuration for the HTTP adapter
type HTTPConfig struct {
	// Address to listen on (e.g., ":8080" or "localhost:8080")
	Address string

	// Path to handle RPC requests (default: "/rpc")
	Path string

	// Read/write timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Maximum request body size (default: 10MB)
	MaxBodySize int64

	// ExchangeTimeout bounds how long an exchange waits for the dispatched
	// response before answering with an error (default: 30s).
	ExchangeTimeout time.Duration

	// ServerName is reported by the /health endpoint
	ServerName string
}

// HTTPAdapter implements the request/response channel. Each inbound exchange
// synthesizes a fresh connection id and blocks until Send delivers the
// correlated response or the exchange timeout fires.
type HTTPAdapter struct {
	config   *HTTPConfig
	server   *http.Server
	listener net.Listener
	router   *mux.Router
	logger   *logging.Logger

	onMessage   MessageFunc
	onLifecycle LifecycleFunc
	frames      FrameSink

	mu      sync.RWMutex
	running bool

	// pending maps exchange ids to their reply slots. An entry is consumed
	// by the first Send for its id.
	pending   map[string]chan *protocol.Response
	pendingMu sync.Mutex

	middleware []mux.MiddlewareFunc
	extra      map[string]http.Handler
	healthInfo func() map[string]interface{}
}

// NewHTTPAdapter creates a new HTTP adapter
func NewHTTPAdapter(config *HTTPConfig, logger *logging.Logger) *HTTPAdapter {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 10 * 1024 * 1024
	}
	if config.Path == "" {
		config.Path = "/rpc"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 120 * time.Second
	}
	if config.ExchangeTimeout == 0 {
		config.ExchangeTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &HTTPAdapter{
		config:  config,
		logger:  logger.WithComponent("transport.http"),
		frames:  nopFrameSink{},
		pending: make(map[string]chan *protocol.Response),
		extra:   make(map[string]http.Handler),
	}
}

// Name implements Adapter.
func (t *HTTPAdapter) Name() string { return "http" }

// IDPrefix implements Adapter.
func (t *HTTPAdapter) IDPrefix() string { return "http" }

// OnMessage implements Adapter.
func (t *HTTPAdapter) OnMessage(fn MessageFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnLifecycle implements Adapter.
func (t *HTTPAdapter) OnLifecycle(fn LifecycleFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLifecycle = fn
}

// SetFrameSink installs the frame accounting sink. Must be called before Start.
func (t *HTTPAdapter) SetFrameSink(sink FrameSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = sink
}

func (t *HTTPAdapter) frameSink() FrameSink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames
}

// Use appends middleware applied to every route. Must be called before Start.
func (t *HTTPAdapter) Use(mw ...mux.MiddlewareFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.middleware = append(t.middleware, mw...)
}

// Handle mounts an extra handler (e.g. a metrics endpoint) outside the
// dispatch path. Must be called before Start.
func (t *HTTPAdapter) Handle(path string, h http.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extra[path] = h
}

// SetHealthInfo installs a callback whose fields are merged into the /health
// payload, letting the owner report uptime and connection totals.
func (t *HTTPAdapter) SetHealthInfo(fn func() map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthInfo = fn
}

// Start binds the listening socket and begins serving exchanges.
func (t *HTTPAdapter) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return &StartError{Channel: t.Name(), Err: ErrAlreadyRunning}
	}

	listener, err := net.Listen("tcp", t.config.Address)
	if err != nil {
		return &StartError{Channel: t.Name(), Err: err}
	}
	t.listener = listener

	router := mux.NewRouter()
	router.Use(t.recoveryMiddleware)
	router.Use(t.middleware...)
	router.HandleFunc(t.config.Path, t.handleExchange).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/health", t.handleHealth).Methods(http.MethodGet)
	for path, h := range t.extra {
		router.Handle(path, h)
	}
	t.router = router

	t.server = &http.Server{
		Handler:      router,
		ReadTimeout:  t.config.ReadTimeout,
		WriteTimeout: t.config.WriteTimeout,
		IdleTimeout:  t.config.IdleTimeout,
	}
	t.running = true

	go func() {
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.logger.WithError(err).Error("http server exited")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()

	return nil
}

// Stop shuts the server down and abandons pending exchanges. Idempotent.
func (t *HTTPAdapter) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	server := t.server
	t.mu.Unlock()

	t.pendingMu.Lock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.logger.WithError(err).Warn("http shutdown")
		}
	}
	return nil
}

// Send delivers a response to a waiting exchange. The exchange id is consumed
// by the first Send; a second Send for the same id fails.
func (t *HTTPAdapter) Send(connID string, resp *protocol.Response) error {
	t.pendingMu.Lock()
	ch, ok := t.pending[connID]
	if ok {
		delete(t.pending, connID)
	}
	t.pendingMu.Unlock()
	if !ok {
		return ErrConnectionNotFound
	}

	ch <- resp
	return nil
}

// IsRunning implements Adapter.
func (t *HTTPAdapter) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Addr returns the bound listen address, "" when not running.
func (t *HTTPAdapter) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// ConnectionCount reports the number of exchanges currently in flight.
func (t *HTTPAdapter) ConnectionCount() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// handleExchange runs one synchronous request/response exchange.
func (t *HTTPAdapter) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, t.config.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.writeResponse(w, protocol.NewErrorResponse(nil,
			protocol.NewError(protocol.CodeParseError, "Failed to read request body", nil)))
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.logger.DroppedFrame(t.Name(), "", err)
		t.frameSink().FrameDropped(t.Name())
		t.writeResponse(w, protocol.NewErrorResponse(nil,
			protocol.NewError(protocol.CodeParseError, "Invalid JSON", nil)))
		return
	}
	req.ReceivedAt = time.Now()
	t.frameSink().FrameReceived(t.Name())

	// Each exchange is its own short-lived connection.
	connID := newConnectionID(t.IDPrefix())
	reply := make(chan *protocol.Response, 1)

	t.pendingMu.Lock()
	t.pending[connID] = reply
	t.pendingMu.Unlock()

	t.emitLifecycle(EventConnected, connID)
	defer t.emitLifecycle(EventDisconnected, connID)
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, connID)
		t.pendingMu.Unlock()
	}()

	t.mu.RLock()
	sink := t.onMessage
	t.mu.RUnlock()
	if sink == nil {
		t.writeResponse(w, protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeInternalError, "No message sink registered", nil)))
		return
	}
	sink(connID, &req)

	timer := time.NewTimer(t.config.ExchangeTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-reply:
		if !ok {
			// Adapter stopped while the exchange was in flight.
			t.writeResponse(w, protocol.NewErrorResponse(req.ID,
				protocol.NewError(protocol.CodeInternalError, "Server shutting down", nil)))
			return
		}
		t.writeResponse(w, resp)
	case <-timer.C:
		t.writeResponse(w, protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeInternalError, "Exchange timed out", nil)))
	case <-r.Context().Done():
		// Client went away; nothing left to write.
	}
}

// handleHealth answers liveness probes outside the dispatch path.
func (t *HTTPAdapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]interface{}{
		"status":    "healthy",
		"server":    t.config.ServerName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	t.mu.RLock()
	info := t.healthInfo
	t.mu.RUnlock()
	if info != nil {
		for k, v := range info() {
			payload[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPAdapter) writeResponse(w http.ResponseWriter, resp *protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.logger.WithError(err).Warn("encoding response")
		return
	}
	t.frameSink().FrameSent(t.Name())
}

// recoveryMiddleware keeps a panicking handler from tearing the server down.
func (t *HTTPAdapter) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				t.logger.Error("panic in http handler", "panic", rec)
				t.writeResponse(w, protocol.NewErrorResponse(nil,
					protocol.NewError(protocol.CodeInternalError, "Internal server error", nil)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (t *HTTPAdapter) emitLifecycle(ev EventType, connID string) {
	t.mu.RLock()
	sink := t.onLifecycle
	t.mu.RUnlock()
	if sink != nil {
		sink(LifecycleEvent{Type: ev, ConnectionID: connID, Channel: t.Name(), Time: time.Now()})
	}
}
