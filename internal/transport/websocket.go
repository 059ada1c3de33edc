package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/logging"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// WebSocketConfig contains configuration for the WebSocket adapter
type WebSocketConfig struct {
	// Address to listen on
	Address string

	// Path to handle WebSocket connections (default: "/ws")
	Path string

	// WebSocket upgrade configuration
	ReadBufferSize  int
	WriteBufferSize int

	// Timeouts
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration

	// Maximum message size (default: 10MB)
	MaxMessageSize int64

	// Check origin function
	CheckOrigin func(r *http.Request) bool

	// ServerName is echoed in the "connected" greeting
	ServerName string
}

// wsConn pairs a socket with its write lock; gorilla connections allow only
// one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WebSocketAdapter implements the socket channel: one Connection per physical
// socket, whole-message frames, a synthetic "connected" greeting on accept.
type WebSocketAdapter struct {
	config   *WebSocketConfig
	server   *http.Server
	listener net.Listener
	upgrader *websocket.Upgrader
	logger   *logging.Logger

	onMessage   MessageFunc
	onLifecycle LifecycleFunc
	frames      FrameSink

	mu      sync.RWMutex
	running bool

	connections map[string]*wsConn
	connMu      sync.RWMutex
}

// NewWebSocketAdapter creates a new WebSocket adapter
func NewWebSocketAdapter(config *WebSocketConfig, logger *logging.Logger) *WebSocketAdapter {
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 4096
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 4096
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = 10 * 1024 * 1024
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.Path == "" {
		config.Path = "/ws"
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &WebSocketAdapter{
		config: config,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin:      config.CheckOrigin,
		},
		logger:      logger.WithComponent("transport.websocket"),
		frames:      nopFrameSink{},
		connections: make(map[string]*wsConn),
	}
}

// Name implements Adapter.
func (t *WebSocketAdapter) Name() string { return "websocket" }

// IDPrefix implements Adapter.
func (t *WebSocketAdapter) IDPrefix() string { return "ws" }

// OnMessage implements Adapter.
func (t *WebSocketAdapter) OnMessage(fn MessageFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnLifecycle implements Adapter.
func (t *WebSocketAdapter) OnLifecycle(fn LifecycleFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLifecycle = fn
}

// SetFrameSink installs the frame accounting sink. Must be called before Start.
func (t *WebSocketAdapter) SetFrameSink(sink FrameSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = sink
}

func (t *WebSocketAdapter) frameSink() FrameSink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames
}

// Start binds the listening socket and begins accepting connections. The
// bind happens synchronously so an occupied address fails Start itself.
func (t *WebSocketAdapter) Start(ctx context.Context) error {
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

	mux := http.NewServeMux()
	mux.HandleFunc(t.config.Path, t.handleUpgrade)

	t.server = &http.Server{Handler: mux}
	t.running = true

	go func() {
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.logger.WithError(err).Error("websocket server exited")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()

	return nil
}

// Stop closes the listener and every live connection. Idempotent.
func (t *WebSocketAdapter) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	server := t.server
	t.mu.Unlock()

	t.connMu.Lock()
	conns := t.connections
	t.connections = make(map[string]*wsConn)
	t.connMu.Unlock()

	// Force-closed connections still get their disconnect event; their read
	// loops find the map entry gone and stay silent.
	for id, c := range conns {
		_ = c.conn.Close()
		t.logger.ConnectionEvent("disconnected", t.Name(), id)
		t.emitLifecycle(EventDisconnected, id)
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.logger.WithError(err).Warn("websocket shutdown")
		}
	}
	return nil
}

// Send delivers a response to one connection.
func (t *WebSocketAdapter) Send(connID string, resp *protocol.Response) error {
	t.connMu.RLock()
	c, ok := t.connections[connID]
	t.connMu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	return t.writeJSON(c, resp)
}

// Broadcast sends a notification to every live connection.
func (t *WebSocketAdapter) Broadcast(note *protocol.Notification) {
	t.connMu.RLock()
	conns := make([]*wsConn, 0, len(t.connections))
	for _, c := range t.connections {
		conns = append(conns, c)
	}
	t.connMu.RUnlock()

	for _, c := range conns {
		// Dead connections are reaped by their own read loops.
		_ = t.writeJSON(c, note)
	}
}

// IsRunning implements Adapter.
func (t *WebSocketAdapter) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Addr returns the bound listen address, "" when not running.
func (t *WebSocketAdapter) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// ConnectionCount implements Adapter.
func (t *WebSocketAdapter) ConnectionCount() int {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return len(t.connections)
}

func (t *WebSocketAdapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := newConnectionID(t.IDPrefix())
	c := &wsConn{conn: conn}

	t.connMu.Lock()
	t.connections[connID] = c
	t.connMu.Unlock()

	t.logger.ConnectionEvent("connected", t.Name(), connID)
	t.emitLifecycle(EventConnected, connID)

	// Greet the connection before any application traffic.
	greeting := &protocol.Notification{
		Method: "connected",
		Params: map[string]interface{}{
			"connectionId":    connID,
			"server":          t.config.ServerName,
			"protocolVersion": protocol.Version,
		},
	}
	if err := t.writeJSON(c, greeting); err != nil {
		t.dropConnection(connID, c)
		return
	}

	go t.readLoop(connID, c)
}

// readLoop consumes frames for one connection until it closes.
func (t *WebSocketAdapter) readLoop(connID string, c *wsConn) {
	defer t.dropConnection(connID, c)

	c.conn.SetReadLimit(t.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	})

	done := make(chan struct{})
	go t.pingLoop(c, done)
	defer close(done)

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(message, &req); err != nil {
			// Bad frame: discard, keep the connection open.
			t.logger.DroppedFrame(t.Name(), connID, err)
			t.frameSink().FrameDropped(t.Name())
			continue
		}
		req.ReceivedAt = time.Now()
		t.frameSink().FrameReceived(t.Name())

		t.mu.RLock()
		sink := t.onMessage
		t.mu.RUnlock()
		if sink != nil {
			sink(connID, &req)
		}
	}
}

func (t *WebSocketAdapter) pingLoop(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (t *WebSocketAdapter) dropConnection(connID string, c *wsConn) {
	t.connMu.Lock()
	_, live := t.connections[connID]
	delete(t.connections, connID)
	t.connMu.Unlock()
	_ = c.conn.Close()

	if live {
		t.logger.ConnectionEvent("disconnected", t.Name(), connID)
		t.emitLifecycle(EventDisconnected, connID)
	}
}

func (t *WebSocketAdapter) writeJSON(c *wsConn, v interface{}) error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	err := c.conn.WriteJSON(v)
	c.writeMu.Unlock()
	if err == nil {
		t.frameSink().FrameSent(t.Name())
	}
	return err
}

func (t *WebSocketAdapter) emitLifecycle(ev EventType, connID string) {
	t.mu.RLock()
	sink := t.onLifecycle
	t.mu.RUnlock()
	if sink != nil {
		sink(LifecycleEvent{Type: ev, ConnectionID: connID, Channel: t.Name(), Time: time.Now()})
	}
}
