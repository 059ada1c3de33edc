package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/logging"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// ManagerMessageFunc receives every inbound request from any channel,
// tagged with its connection id and channel name.
type ManagerMessageFunc func(connID, channel string, req *protocol.Request)

// Manager owns the set of active channel adapters. It fans their parsed
// messages into one sink, routes responses back to the owning adapter by
// connection-id prefix, and republishes adapter lifecycle events.
type Manager struct {
	logger *logging.Logger

	mu       sync.RWMutex
	adapters []Adapter // registration order, used for startup and fallback probing
	byName   map[string]Adapter
	byPrefix map[string]Adapter
	running  bool

	onMessage   ManagerMessageFunc
	onLifecycle LifecycleFunc
}

// NewManager creates an empty transport manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		logger:   logger.WithComponent("transport.manager"),
		byName:   make(map[string]Adapter),
		byPrefix: make(map[string]Adapter),
	}
}

// Register adds an adapter. At most one adapter per channel name.
func (m *Manager) Register(a Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cannot register %s channel while running", a.Name())
	}
	if _, dup := m.byName[a.Name()]; dup {
		return fmt.Errorf("channel %s already registered", a.Name())
	}

	m.adapters = append(m.adapters, a)
	m.byName[a.Name()] = a
	m.byPrefix[a.IDPrefix()] = a
	return nil
}

// OnMessage registers the single sink receiving every inbound request.
func (m *Manager) OnMessage(fn ManagerMessageFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// OnLifecycle registers the single sink receiving connect/disconnect events.
func (m *Manager) OnLifecycle(fn LifecycleFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLifecycle = fn
}

// Start starts every registered channel in registration order. Startup is
// all-or-nothing: the first failure stops the channels already started and
// the whole operation fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("transport manager already running")
	}
	if len(m.adapters) == 0 {
		return ErrNoTransports
	}

	for _, a := range m.adapters {
		a.OnMessage(m.fanIn(a.Name()))
		a.OnLifecycle(m.republish)
	}

	started := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		if err := a.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(); stopErr != nil {
					m.logger.WithError(stopErr).Warn("stopping channel during rollback",
						"channel", started[i].Name())
				}
			}
			return fmt.Errorf("transport startup failed: %w", err)
		}
		started = append(started, a)
		m.logger.Info("channel started", "channel", a.Name())
	}

	m.running = true
	return nil
}

// Stop stops every live channel concurrently, best-effort, then clears all
// channel state. Individual failures are logged, never propagated.
func (m *Manager) Stop() {
	m.mu.Lock()
	adapters := m.adapters
	m.adapters = nil
	m.byName = make(map[string]Adapter)
	m.byPrefix = make(map[string]Adapter)
	m.running = false
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Stop(); err != nil {
				m.logger.WithError(err).Warn("stopping channel", "channel", a.Name())
			}
		}(a)
	}
	wg.Wait()
}

// Send routes a response to the connection that originated the request. The
// owning channel is determined by the id's prefix; ids that no channel claims
// are offered to every live channel in registration order. A send every
// channel refuses is logged and swallowed.
func (m *Manager) Send(connID string, resp *protocol.Response) error {
	m.mu.RLock()
	owner := m.byPrefix[idPrefix(connID)]
	probes := m.adapters
	m.mu.RUnlock()

	if owner != nil {
		return owner.Send(connID, resp)
	}

	for _, a := range probes {
		if err := a.Send(connID, resp); err == nil {
			return nil
		}
	}
	m.logger.Warn("undeliverable response dropped", "connection_id", connID)
	return nil
}

// IsRunning reports whether the manager has started its channels.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ChannelNames returns the registered channel names in registration order.
func (m *Manager) ChannelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.adapters))
	for _, a := range m.adapters {
		names = append(names, a.Name())
	}
	return names
}

// ChannelRunning reports whether the named channel is live.
func (m *Manager) ChannelRunning(name string) bool {
	m.mu.RLock()
	a := m.byName[name]
	m.mu.RUnlock()
	return a != nil && a.IsRunning()
}

// ConnectionCount reports the number of live connections across all channels.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, a := range m.adapters {
		total += a.ConnectionCount()
	}
	return total
}

// Adapter returns the adapter registered for a channel name, if any.
func (m *Manager) Adapter(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byName[name]
	return a, ok
}

// fanIn tags adapter messages with their channel name and forwards them to
// the manager's sink.
func (m *Manager) fanIn(channel string) MessageFunc {
	return func(connID string, req *protocol.Request) {
		m.mu.RLock()
		sink := m.onMessage
		m.mu.RUnlock()
		if sink != nil {
			sink(connID, channel, req)
		}
	}
}

// republish forwards an adapter lifecycle event to the manager's sink.
func (m *Manager) republish(ev LifecycleEvent) {
	m.mu.RLock()
	sink := m.onLifecycle
	m.mu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}
