// Package transport implements the channel adapters and the transport manager
// that converge them into a single message stream.
//
// Each adapter owns one physical transport (WebSocket, HTTP, stdio), parses
// raw bytes into canonical request envelopes and hands them to a single
// registered sink together with a channel-prefixed connection id. The manager
// fans adapter messages in, routes responses back out by connection id, and
// republishes per-channel lifecycle events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

var (
	// ErrConnectionNotFound is returned by Send when the connection id is
	// unknown or already closed on the channel.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrAlreadyRunning is returned by Start on a running adapter.
	ErrAlreadyRunning = errors.New("transport already running")

	// ErrNoTransports is returned by the manager when Start is called with
	// zero registered adapters.
	ErrNoTransports = errors.New("no transports configured")
)

// StartError reports a channel that failed to acquire its transport resource.
type StartError struct {
	Channel string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %s transport: %v", e.Channel, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// MessageFunc receives every successfully parsed request from an adapter,
// tagged with the originating connection id.
type MessageFunc func(connID string, req *protocol.Request)

// FrameSink receives per-frame accounting from an adapter: parsed inbound
// frames, written outbound frames, and malformed frames that were discarded.
type FrameSink interface {
	FrameReceived(channel string)
	FrameSent(channel string)
	FrameDropped(channel string)
}

// nopFrameSink is the default FrameSink when none is installed.
type nopFrameSink struct{}

func (nopFrameSink) FrameReceived(string) {}

func (nopFrameSink) FrameSent(string) {}

func (nopFrameSink) FrameDropped(string) {}

// EventType classifies a connection lifecycle event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// LifecycleEvent describes a connection appearing on or leaving a channel.
type LifecycleEvent struct {
	Type         EventType
	ConnectionID string
	Channel      string
	Time         time.Time
}

// LifecycleFunc receives connection lifecycle events.
type LifecycleFunc func(ev LifecycleEvent)

// Adapter is the capability contract every channel adapter implements.
// OnMessage and OnLifecycle register at most one sink each and must be
// called before Start.
type Adapter interface {
	// Name returns the channel name ("websocket", "http", "stdio").
	Name() string

	// IDPrefix returns the prefix this adapter stamps on its connection ids.
	IDPrefix() string

	// Start acquires the transport resource and begins accepting traffic.
	Start(ctx context.Context) error

	// Stop releases the resource and closes all live connections. Idempotent.
	Stop() error

	// Send delivers a response to one connection.
	Send(connID string, resp *protocol.Response) error

	// OnMessage registers the single sink for parsed requests.
	OnMessage(fn MessageFunc)

	// OnLifecycle registers the single sink for connect/disconnect events.
	OnLifecycle(fn LifecycleFunc)

	// IsRunning reports whether the adapter has been started.
	IsRunning() bool

	// ConnectionCount reports the number of live connections.
	ConnectionCount() int
}

// newConnectionID mints a channel-prefixed id, unique for the process lifetime.
func newConnectionID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// idPrefix extracts the channel prefix from a connection id. Returns "" when
// the id carries no prefix separator.
func idPrefix(connID string) string {
	if i := strings.IndexByte(connID, '-'); i > 0 {
		return connID[:i]
	}
	return ""
}
