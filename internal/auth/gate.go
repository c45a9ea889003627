// Package auth binds the transport connection to a caller identity exactly
// once per connection lifetime, tolerating the common case where the caller
// authenticates before the connection is open.
package auth

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/transport"
)

// ChannelAuthenticate is the outbound handshake channel.
const ChannelAuthenticate = "authenticate"

type Gate struct {
	conn *transport.Conn
	log  *slog.Logger

	mu      sync.Mutex
	pending *models.AuthHandshake

	sub *transport.Subscription
}

func NewGate(conn *transport.Conn, log *slog.Logger) *Gate {
	g := &Gate{conn: conn, log: log}
	g.sub = conn.Subscribe(transport.ChannelConnected, func(json.RawMessage) {
		g.flush()
	})
	return g
}

// Authenticate issues the identity handshake. Connected: sent immediately.
// Connecting or Reconnecting: stored as the single pending handshake
// (last-writer-wins, no queue) and sent exactly once when the connection
// opens. No attempt in flight: logged and dropped, the caller must retry.
// Fire-and-forget; no acknowledgement is expected.
func (g *Gate) Authenticate(id, role string) {
	hs := models.AuthHandshake{ID: id, Role: role}
	switch g.conn.State() {
	case transport.Connected:
		g.conn.Send(ChannelAuthenticate, hs)
	case transport.Connecting, transport.Reconnecting:
		g.mu.Lock()
		g.pending = &hs
		g.mu.Unlock()
		g.log.Debug("authentication deferred until connect", "id", id, "role", role)
	default:
		g.log.Warn("authenticate ignored: no connection attempt in flight", "id", id)
	}
}

func (g *Gate) flush() {
	g.mu.Lock()
	p := g.pending
	g.pending = nil
	g.mu.Unlock()
	if p == nil {
		return
	}
	g.conn.Send(ChannelAuthenticate, *p)
	g.log.Info("pending authentication sent", "id", p.ID, "role", p.Role)
}

func (g *Gate) Close() {
	g.sub.Cancel()
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
}
