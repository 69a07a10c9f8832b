package blip

import "context"

// Transport is the external collaborator that opens/closes the socket,
// delivers whole binary frames, and offers a writeable-signal (§1). BLIP
// treats it as a black box; the default implementation is a WebSocket
// (transport_websocket.go) but any framed, binary, half-duplex-write
// transport can satisfy this interface.
type Transport interface {
	// Send hands one complete frame to the transport. It may block; the
	// engine never calls Send concurrently with itself.
	Send(frame []byte) error

	// SetHandlers installs the callbacks the transport uses to report
	// inbound frames, writeability, and closure. Called once, before the
	// connection starts processing.
	SetHandlers(h TransportHandlers)

	// Close closes the underlying connection.
	Close() error
}

// TransportHandlers are invoked by the Transport as events occur. Each
// call should be treated as happening on an arbitrary goroutine; the
// engine's own dispatch enqueues them onto its single actor context
// rather than acting on them inline (§5).
type TransportHandlers struct {
	// OnMessage is called once per whole inbound frame. binary reports
	// whether the underlying frame was a binary message; non-binary
	// messages are dropped with a warning per §4.6 step 1.
	OnMessage func(frame []byte, binary bool)
	// OnWriteable is called whenever the transport has newly become able
	// to accept more writes (§4.5 backpressure).
	OnWriteable func()
	// OnClose is called at most once, when the transport closes on its own
	// (peer close or read failure). It is not called after Close.
	OnClose func(status CloseStatus)
}

// CloseStatus describes why a connection closed, delivered to the
// delegate's OnClose callback.
type CloseStatus struct {
	Code    int
	Message string
	Cause   error
}

// Dialer opens a Transport to a remote peer. Implementations live outside
// the core engine (§1); transport_websocket.go provides one over
// gorilla/websocket.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}
