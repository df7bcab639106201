// Package websocket streams committed activity-log entries to connected
// dashboard browsers over RFC 6455 WebSocket connections.
//
// Each client has a dedicated buffered channel of JSON-encoded events. Sends
// are non-blocking, so a slow or stalled browser never delays the request
// that committed the entry; its events are dropped and counted instead.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/athena-ai/dashboard/internal/server/storage"
)

// EventActivity is the event type carrying a storage.ActivityLog.
const EventActivity = "activity"

// Event is the JSON envelope pushed to browser clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client represents a single connected WebSocket client. It is created by
// Broadcaster.Register and is valid until Broadcaster.Unregister is called.
type Client struct {
	id      string
	send    chan []byte
	dropped atomic.Int64
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns a receive-only channel on which JSON-encoded event frames are
// delivered. The channel is closed when the client is unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Dropped reports how many events were discarded because the client's
// buffer was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Broadcaster fans events out to every registered client. It is safe for
// concurrent use.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	bufSize int
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster. bufSize is the per-client buffer
// depth; 0 selects 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{
		clients: make(map[string]*Client),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register creates a Client with the given id. The caller must call
// Unregister(id) when the connection ends. After Close, Register returns a
// Client whose Send channel is already closed.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, b.bufSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.send)
		return c
	}
	if prev, ok := b.clients[id]; ok {
		close(prev.send)
	}
	b.clients[id] = c
	return c
}

// Unregister removes the client with id and closes its Send channel.
// Unknown ids are ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(c.send)
	}
}

// ClientCount returns the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast encodes ev once and offers it to every client.
func (b *Broadcaster) Broadcast(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("websocket broadcaster: marshal failed",
			slog.String("type", ev.Type),
			slog.Any("error", err),
		)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, c := range b.clients {
		select {
		case c.send <- raw:
		default:
			c.dropped.Add(1)
			b.logger.Warn("websocket broadcaster: client buffer full, dropping event",
				slog.String("client_id", c.id),
				slog.String("type", ev.Type),
			)
		}
	}
}

// PublishActivity broadcasts one committed activity-log entry. Its
// signature fits storage.WithAuditHook.
func (b *Broadcaster) PublishActivity(entry storage.ActivityLog) {
	b.Broadcast(Event{Type: EventActivity, Data: entry})
}

// Close unregisters every client. Afterwards Broadcast is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.clients {
		delete(b.clients, id)
		close(c.send)
	}
}
