package blip

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/blip/internal/log"
)

// Subprotocol is the WebSocket subprotocol name BLIP negotiates during
// the HTTP upgrade, matching what a peer speaking this protocol expects
// to see in Sec-WebSocket-Protocol.
const Subprotocol = "BLIP"

// WebSocketTransport is the default Transport (§1), carrying frames as
// binary WebSocket messages over a gorilla/websocket connection.
type WebSocketTransport struct {
	conn *websocket.Conn
	cfg  Config
	log  log.Log

	writeMu sync.Mutex
	closed  int32

	bytesSent     uint64
	bytesReceived uint64

	handlers TransportHandlers
	readOnce sync.Once
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport wraps an already-upgraded/dialed gorilla
// connection. The read loop doesn't start until SetHandlers is called.
func NewWebSocketTransport(conn *websocket.Conn, cfg Config, logger log.Log) *WebSocketTransport {
	if logger == nil {
		logger = log.Nop()
	}
	return &WebSocketTransport{conn: conn, cfg: cfg, log: logger}
}

// SetHandlers installs the callbacks and starts the background read
// loop. Called once by Connection before any frame can arrive.
func (t *WebSocketTransport) SetHandlers(h TransportHandlers) {
	t.handlers = h
	t.readOnce.Do(func() { go t.readLoop() })
}

// Send writes one frame as a binary WebSocket message. Safe to call
// concurrently with itself (serialized by writeMu), though the engine
// never actually does so (§5).
func (t *WebSocketTransport) Send(frame []byte) error {
	if atomic.LoadInt32(&t.closed) != 0 {
		return ErrConnectionClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "blip: websocket write failed")
	}
	atomic.AddUint64(&t.bytesSent, uint64(len(frame)))
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		if t.cfg.ReadTimeout > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		}

		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.closeWithStatus(statusFromReadError(err))
			return
		}
		atomic.AddUint64(&t.bytesReceived, uint64(len(data)))

		binary := msgType == websocket.BinaryMessage
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(data, binary)
		}
	}
}

func statusFromReadError(err error) CloseStatus {
	if ce, ok := err.(*websocket.CloseError); ok {
		return CloseStatus{Code: ce.Code, Message: ce.Text, Cause: err}
	}
	return CloseStatus{Code: websocket.CloseAbnormalClosure, Message: "read failed", Cause: err}
}

func (t *WebSocketTransport) closeWithStatus(status CloseStatus) {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return
	}
	_ = t.conn.Close()
	if t.handlers.OnClose != nil {
		t.handlers.OnClose(status)
	}
}

// Close sends a close frame and tears down the socket. Idempotent.
func (t *WebSocketTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}

	t.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	t.writeMu.Unlock()

	return errors.Wrap(t.conn.Close(), "blip: websocket close failed")
}

// webSocketDialer implements Dialer over gorilla/websocket, negotiating
// the BLIP subprotocol.
type webSocketDialer struct {
	cfg    Config
	log    log.Log
	dialer *websocket.Dialer
}

// NewWebSocketDialer builds a Dialer that opens BLIP connections as a
// WebSocket client.
func NewWebSocketDialer(cfg Config, logger log.Log) Dialer {
	return &webSocketDialer{
		cfg: cfg,
		log: logger,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{Subprotocol},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *webSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "blip: websocket dial failed")
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, errors.Errorf("blip: unexpected handshake status %d", resp.StatusCode)
	}
	return NewWebSocketTransport(conn, d.cfg, d.log), nil
}

// UpgradeHandler returns an http.Handler that upgrades incoming requests
// to a BLIP WebSocket connection and passes the resulting Transport to
// accept. It's the server-side counterpart to webSocketDialer, used by
// cmd/blipd.
func UpgradeHandler(cfg Config, logger log.Log, accept func(Transport)) http.Handler {
	upgrader := websocket.Upgrader{
		Subprotocols:    []string{Subprotocol},
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  cfg.BigFrameSize,
		WriteBufferSize: cfg.BigFrameSize,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", log.Error(err))
			return
		}
		accept(NewWebSocketTransport(conn, cfg, logger))
	})
}
