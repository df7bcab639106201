package websocket

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler upgrades HTTP requests to WebSocket and streams broadcast events
// to the client as text frames. Client data frames are read and discarded;
// pings are answered and the connection is pinged to detect dead peers.
type Handler struct {
	bc     *Broadcaster
	logger *slog.Logger

	writeTimeout time.Duration

	// PingInterval is how often the server pings an idle client. A client
	// that sends nothing (not even a pong) for twice this long is dropped.
	PingInterval time.Duration
}

// NewHandler creates a Handler backed by bc. writeTimeout <= 0 selects 10s.
func NewHandler(bc *Broadcaster, logger *slog.Logger, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Handler{
		bc:           bc,
		logger:       logger,
		writeTimeout: writeTimeout,
		PingInterval: 30 * time.Second,
	}
}

type control struct {
	op      byte
	payload []byte
}

// ServeHTTP handles the upgrade and drives the connection until either side
// closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		h.logger.Error("websocket: hijack failed", slog.Any("error", err))
		return
	}
	// The server's request deadlines stay on a hijacked conn; reset them.
	_ = conn.SetDeadline(time.Time{})

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n\r\n"
	if _, err := bufrw.WriteString(resp); err == nil {
		err = bufrw.Flush()
	}
	if err != nil {
		h.logger.Warn("websocket: handshake failed", slog.Any("error", err))
		conn.Close()
		return
	}

	clientID := uuid.NewString()
	client := h.bc.Register(clientID)
	defer h.bc.Unregister(clientID)

	h.logger.Info("websocket: client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	controls := make(chan control, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("websocket: read loop panic recovered",
					slog.Any("recover", rec),
					slog.String("client_id", clientID),
				)
			}
		}()
		h.readLoop(conn, bufrw.Reader, controls, clientID)
	}()

	ping := time.NewTicker(h.PingInterval)
	defer ping.Stop()

	write := func(op byte, payload []byte) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return false
		}
		if err := writeFrame(conn, op, payload); err != nil {
			h.logger.Warn("websocket: write frame failed",
				slog.String("client_id", clientID), slog.Any("error", err))
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			select {
			case c := <-controls:
				write(c.op, c.payload)
			default:
			}
			return

		case c := <-controls:
			if !write(c.op, c.payload) || c.op == opClose {
				return
			}

		case <-ping.C:
			if !write(opPing, nil) {
				return
			}

		case msg, ok := <-client.Send():
			if !ok {
				// Broadcaster closed: say goodbye (1001 going away).
				write(opClose, []byte{0x03, 0xE9})
				return
			}
			if !write(opText, msg) {
				return
			}
		}
	}
}

// readLoop consumes client frames until the peer closes, goes silent for
// two ping intervals, or sends something malformed. Pings and the close
// handshake are answered through controls.
func (h *Handler) readLoop(conn net.Conn, r *bufio.Reader, controls chan<- control, clientID string) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(2 * h.PingInterval)); err != nil {
			return
		}
		op, payload, err := readFrame(r)
		if err != nil {
			h.logger.Debug("websocket: read ended",
				slog.String("client_id", clientID), slog.Any("error", err))
			return
		}

		switch op {
		case opPing:
			select {
			case controls <- control{op: opPong, payload: payload}:
			default:
			}
		case opClose:
			h.logger.Debug("websocket: received close frame", slog.String("client_id", clientID))
			select {
			case controls <- control{op: opClose, payload: payload}:
			default:
			}
			return
		}
	}
}

// isWebSocketUpgrade reports whether r carries the RFC 6455 §4.1 upgrade
// headers.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
