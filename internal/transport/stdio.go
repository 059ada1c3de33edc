package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/logging"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// StdioConfig contains configuration for the stdio adapter
type StdioConfig struct {
	// Delimiter separates frames on both directions (default: "\n")
	Delimiter string
}

// StdioAdapter implements the stream channel: a single long-lived connection
// over a delimited byte stream. Partial trailing fragments are buffered
// across reads; outbound frames append the same delimiter.
type StdioAdapter struct {
	config *StdioConfig
	input  io.Reader
	output io.Writer
	logger *logging.Logger

	onMessage   MessageFunc
	onLifecycle LifecycleFunc
	frames      FrameSink

	mu      sync.RWMutex
	running bool
	connID  string

	writeMu sync.Mutex
}

// NewStdioAdapter creates a stdio adapter bound to os.Stdin/os.Stdout.
func NewStdioAdapter(config *StdioConfig, logger *logging.Logger) *StdioAdapter {
	return NewStdioAdapterWithIO(config, os.Stdin, os.Stdout, logger)
}

// NewStdioAdapterWithIO creates a stdio adapter with custom IO.
func NewStdioAdapterWithIO(config *StdioConfig, input io.Reader, output io.Writer, logger *logging.Logger) *StdioAdapter {
	if config == nil {
		config = &StdioConfig{}
	}
	if config.Delimiter == "" {
		config.Delimiter = "\n"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StdioAdapter{
		config: config,
		input:  input,
		output: output,
		logger: logger.WithComponent("transport.stdio"),
		frames: nopFrameSink{},
	}
}

// Name implements Adapter.
func (t *StdioAdapter) Name() string { return "stdio" }

// IDPrefix implements Adapter.
func (t *StdioAdapter) IDPrefix() string { return "stdio" }

// OnMessage implements Adapter.
func (t *StdioAdapter) OnMessage(fn MessageFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnLifecycle implements Adapter.
func (t *StdioAdapter) OnLifecycle(fn LifecycleFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLifecycle = fn
}

// SetFrameSink installs the frame accounting sink. Must be called before Start.
func (t *StdioAdapter) SetFrameSink(sink FrameSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = sink
}

func (t *StdioAdapter) frameSink() FrameSink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames
}

// Start attaches to the byte stream and begins reading frames.
func (t *StdioAdapter) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return &StartError{Channel: t.Name(), Err: ErrAlreadyRunning}
	}
	t.running = true
	t.connID = newConnectionID(t.IDPrefix())
	connID := t.connID
	t.mu.Unlock()

	t.logger.ConnectionEvent("connected", t.Name(), connID)
	t.emitLifecycle(EventConnected, connID)

	go t.readLoop(ctx, connID)
	return nil
}

// Stop detaches from the stream. Idempotent.
func (t *StdioAdapter) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	connID := t.connID
	t.connID = ""
	t.mu.Unlock()

	t.logger.ConnectionEvent("disconnected", t.Name(), connID)
	t.emitLifecycle(EventDisconnected, connID)
	return nil
}

// Send writes a response frame followed by the delimiter.
func (t *StdioAdapter) Send(connID string, resp *protocol.Response) error {
	t.mu.RLock()
	current := t.connID
	running := t.running
	t.mu.RUnlock()
	if !running || connID != current {
		return ErrConnectionNotFound
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.output.Write(data); err != nil {
		return err
	}
	if _, err := t.output.Write([]byte(t.config.Delimiter)); err != nil {
		return err
	}
	t.frameSink().FrameSent(t.Name())
	return nil
}

// IsRunning implements Adapter.
func (t *StdioAdapter) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// ConnectionCount implements Adapter. At most one logical connection exists.
func (t *StdioAdapter) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.running {
		return 1
	}
	return 0
}

// readLoop reassembles delimited frames, carrying any partial trailing
// fragment across reads.
func (t *StdioAdapter) readLoop(ctx context.Context, connID string) {
	defer func() {
		// EOF or cancellation ends the single logical connection.
		_ = t.Stop()
	}()

	delim := []byte(t.config.Delimiter)
	var pending []byte
	chunk := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.input.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				i := bytes.Index(pending, delim)
				if i < 0 {
					break
				}
				frame := pending[:i]
				pending = pending[i+len(delim):]
				t.handleFrame(connID, frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				t.logger.WithError(err).Error("reading input stream")
			}
			return
		}
	}
}

func (t *StdioAdapter) handleFrame(connID string, frame []byte) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		t.logger.DroppedFrame(t.Name(), connID, err)
		t.frameSink().FrameDropped(t.Name())
		return
	}
	req.ReceivedAt = time.Now()
	t.frameSink().FrameReceived(t.Name())

	t.mu.RLock()
	sink := t.onMessage
	running := t.running
	t.mu.RUnlock()
	if sink != nil && running {
		sink(connID, &req)
	}
}

func (t *StdioAdapter) emitLifecycle(ev EventType, connID string) {
	t.mu.RLock()
	sink := t.onLifecycle
	t.mu.RUnlock()
	if sink != nil {
		sink(LifecycleEvent{Type: ev, ConnectionID: connID, Channel: t.Name(), Time: time.Now()})
	}
}
