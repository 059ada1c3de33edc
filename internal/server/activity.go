package server

import (
	"time"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/transport"
)

// ConnectionActivity tracks per-connection bookkeeping in the dispatch core.
type ConnectionActivity struct {
	Channel   string
	CreatedAt time.Time
	LastSeen  time.Time
}

// handleLifecycle maintains the activity table from manager lifecycle events
// and keeps the connection gauges current.
func (s *Server) handleLifecycle(ev transport.LifecycleEvent) {
	switch ev.Type {
	case transport.EventConnected:
		s.actMu.Lock()
		s.activity[ev.ConnectionID] = &ConnectionActivity{
			Channel:   ev.Channel,
			CreatedAt: ev.Time,
			LastSeen:  ev.Time,
		}
		s.actMu.Unlock()
		s.sink.ConnectionOpened(ev.Channel)
	case transport.EventDisconnected:
		s.actMu.Lock()
		delete(s.activity, ev.ConnectionID)
		s.actMu.Unlock()
		s.sink.ConnectionClosed(ev.Channel)
	}
	s.logger.ConnectionEvent(string(ev.Type), ev.Channel, ev.ConnectionID)
}

// touchActivity refreshes the last-seen timestamp for a connection. Unknown
// ids get a fresh entry; the request/response channel synthesizes ids whose
// connect event may race the first message.
func (s *Server) touchActivity(connID, channel string) {
	if connID == "" {
		return
	}
	now := time.Now()
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if entry, ok := s.activity[connID]; ok {
		entry.LastSeen = now
		return
	}
	s.activity[connID] = &ConnectionActivity{Channel: channel, CreatedAt: now, LastSeen: now}
}

// ActivitySnapshot returns a copy of the connection-activity table.
func (s *Server) ActivitySnapshot() map[string]ConnectionActivity {
	s.actMu.RLock()
	defer s.actMu.RUnlock()
	out := make(map[string]ConnectionActivity, len(s.activity))
	for id, entry := range s.activity {
		out[id] = *entry
	}
	return out
}
